package affiliate

import (
	"context"
	"sync"
	"time"
)

// ReportClient is one row of the partner clients report.
type ReportClient struct {
	PartnerAccount             string  `json:"partner_account"`
	ClientUID                  string  `json:"client_uid"`
	RegDate                    string  `json:"reg_date"`
	ClientCountry              string  `json:"client_country"`
	VolumeLots                 float64 `json:"volume_lots"`
	VolumeMlnUSD               float64 `json:"volume_mln_usd"`
	RewardUSD                  string  `json:"reward_usd"`
	TradeFn                    *string `json:"trade_fn"`
	ClientContactSharingStatus string  `json:"client_contact_sharing_status"`
	ClientStatus               string  `json:"client_status"`
	RebateAmountUSD            float64 `json:"rebate_amount_usd"`
	KYCPassed                  bool    `json:"kyc_passed"`
	FTDReceived                bool    `json:"ftd_received"`
	FTTMade                    bool    `json:"ftt_made"`
	ClientBalance              int     `json:"client_balance"`
	ClientEquity               int     `json:"client_equity"`
	DepositAmount              int     `json:"deposit_amount"`
	LastWeekFailedDepositCount int     `json:"last_week_failed_deposit_count"`
}

// ClientsReport is the clients report payload.
type ClientsReport struct {
	Data   []ReportClient `json:"data"`
	Totals struct {
		Count               int     `json:"count"`
		VolumeLots          float64 `json:"volume_lots"`
		VolumeMlnUSD        float64 `json:"volume_mln_usd"`
		RewardUSD           string  `json:"reward_usd"`
		ServerDT            string  `json:"server_dt"`
		AvailableForRequest int     `json:"available_for_request"`
	} `json:"totals"`
}

// WalletAccount is a partner wallet.
type WalletAccount struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Currency string  `json:"currency"`
	Balance  float64 `json:"balance"`
	Type     string  `json:"type"`
}

// PartnerLink is the partner's default referral link.
type PartnerLink struct {
	FullDefaultLink string `json:"full_default_link"`
	Domain          string `json:"domain"`
	Code            string `json:"code"`
}

// balanceLabels maps the report's balance bucket codes to display ranges.
var balanceLabels = map[int]string{
	1: "$0–10",
	2: "$10–50",
	3: "$50–250",
	4: "$250–1K",
	5: "$1K–5K",
	6: ">$5K",
}

// BalanceLabel returns the display range for a bucket code, or "—".
func BalanceLabel(code int) string {
	if l, ok := balanceLabels[code]; ok {
		return l
	}
	return "—"
}

// StatsClient is a report row with its bucket codes resolved to labels.
type StatsClient struct {
	ReportClient
	BalanceLabel string `json:"balance_label"`
	EquityLabel  string `json:"equity_label"`
	DepositLabel string `json:"deposit_label"`
}

// StatsSummary aggregates the clients report.
type StatsSummary struct {
	TotalClients    int     `json:"total_clients"`
	ActiveClients   int     `json:"active_clients"`
	InactiveClients int     `json:"inactive_clients"`
	KYCPassed       int     `json:"kyc_passed"`
	FTDReceived     int     `json:"ftd_received"`
	TradingActive   int     `json:"trading_active"`
	VolumeLots      float64 `json:"volume_lots"`
	VolumeMlnUSD    float64 `json:"volume_mln_usd"`
	RewardUSD       string  `json:"reward_usd"`
	ServerDT        *string `json:"server_dt"`
}

// Stats is the admin dashboard view of the partner account.
type Stats struct {
	FetchedAt   time.Time    `json:"fetched_at"`
	PartnerLink *PartnerLink `json:"partner_link"`
	Wallet      struct {
		Accounts        []WalletAccount `json:"accounts"`
		TotalBalanceUSD float64         `json:"total_balance_usd"`
	} `json:"wallet"`
	Summary StatsSummary  `json:"summary"`
	Clients []StatsClient `json:"clients"`
}

// Stats fetches the clients report, wallet accounts and partner link in
// parallel and aggregates them.  A failing section is logged and left
// empty; only failing to obtain a token aborts the call.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	if _, err := c.Token(ctx); err != nil {
		return nil, err
	}

	var (
		wg      sync.WaitGroup
		clients *ClientsReport
		wallet  struct {
			Accounts []WalletAccount `json:"accounts"`
		}
		link    PartnerLink
		linkErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		report, err := c.fetchClients(ctx, nil)
		if err != nil {
			c.log.Warnw("affiliate stats: clients report unavailable", "error", err)
			return
		}
		clients = report
	}()
	go func() {
		defer wg.Done()
		if err := c.getJSON(ctx, walletPath, "wallet accounts", &wallet); err != nil {
			c.log.Warnw("affiliate stats: wallet unavailable", "error", err)
			wallet.Accounts = nil
		}
	}()
	go func() {
		defer wg.Done()
		if linkErr = c.getJSON(ctx, linkPath, "partner link", &link); linkErr != nil {
			c.log.Warnw("affiliate stats: partner link unavailable", "error", linkErr)
		}
	}()
	wg.Wait()

	return buildStats(c.now().UTC(), clients, wallet.Accounts, link, linkErr == nil), nil
}

func buildStats(now time.Time, report *ClientsReport, accounts []WalletAccount, link PartnerLink, haveLink bool) *Stats {
	s := &Stats{FetchedAt: now, Clients: []StatsClient{}}
	if haveLink {
		l := link
		s.PartnerLink = &l
	}

	s.Wallet.Accounts = []WalletAccount{}
	for _, a := range accounts {
		s.Wallet.Accounts = append(s.Wallet.Accounts, a)
		s.Wallet.TotalBalanceUSD += a.Balance
	}

	s.Summary.RewardUSD = "0"
	if report == nil {
		return s
	}
	for _, rc := range report.Data {
		s.Clients = append(s.Clients, StatsClient{
			ReportClient: rc,
			BalanceLabel: BalanceLabel(rc.ClientBalance),
			EquityLabel:  BalanceLabel(rc.ClientEquity),
			DepositLabel: BalanceLabel(rc.DepositAmount),
		})
		switch rc.ClientStatus {
		case "ACTIVE":
			s.Summary.ActiveClients++
		case "INACTIVE":
			s.Summary.InactiveClients++
		}
		if rc.KYCPassed {
			s.Summary.KYCPassed++
		}
		if rc.FTDReceived {
			s.Summary.FTDReceived++
		}
		if rc.FTTMade {
			s.Summary.TradingActive++
		}
	}
	t := report.Totals
	s.Summary.TotalClients = t.Count
	s.Summary.VolumeLots = t.VolumeLots
	s.Summary.VolumeMlnUSD = t.VolumeMlnUSD
	if t.RewardUSD != "" {
		s.Summary.RewardUSD = t.RewardUSD
	}
	if t.ServerDT != "" {
		dt := t.ServerDT
		s.Summary.ServerDT = &dt
	}
	return s
}
