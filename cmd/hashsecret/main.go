// Command hashsecret prints a bcrypt hash of a shared secret read from stdin,
// suitable for ADMIN_PASSWORD, EA_VERIFY_API_KEY or CRON_SECRET.
//
//	echo -n 's3cret' | go run ./cmd/hashsecret -cost 12
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/ea-license-service/internal/utils"
)

func main() {
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	flag.Parse()

	hash, err := run(os.Stdin, *cost)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hashsecret:", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

func run(in io.Reader, cost int) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", fmt.Errorf("empty secret on stdin")
	}
	return utils.HashPassword(secret, cost)
}
