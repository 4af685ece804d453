package service

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/iliyamo/ea-license-service/internal/model"
	"github.com/iliyamo/ea-license-service/internal/queue"
)

// SyncLockKey is the Redis key guarding a reconciliation run.
const SyncLockKey = "sync:affiliate:lock"

// SyncDetail records the action taken on one license.
type SyncDetail struct {
	Login  int64  `json:"login"`
	Server string `json:"server"`
	Action string `json:"action"`
}

// SyncResults are the counters of a reconciliation run.
type SyncResults struct {
	Checked int          `json:"checked"`
	Revoked int          `json:"revoked"`
	Updated int          `json:"updated"`
	Errors  int          `json:"errors"`
	Details []SyncDetail `json:"details"`
}

// SyncReport is returned by Run, also alongside a fatal error so callers can
// show what was done before the failure.
type SyncReport struct {
	RunID    string
	Results  SyncResults
	Duration time.Duration
}

// ReconcileService re-checks approved licenses against the affiliate API
// and revokes those whose client is gone or inactive.
type ReconcileService struct {
	store    LicenseStore
	upstream ClientStatusSource
	events   EventPublisher
	locker   Locker
	lockTTL  time.Duration
	log      *zap.SugaredLogger
	now      func() time.Time
}

// NewReconcileService wires the job.  locker may be nil, in which case runs
// are not serialised across replicas.  lockTTL should cover a full run.
func NewReconcileService(store LicenseStore, upstream ClientStatusSource, events EventPublisher, locker Locker, lockTTL time.Duration, log *zap.SugaredLogger) *ReconcileService {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	return &ReconcileService{
		store:    store,
		upstream: upstream,
		events:   orNop(events),
		locker:   locker,
		lockTTL:  lockTTL,
		log:      log,
		now:      utcNow,
	}
}

// Run performs one reconciliation pass.  Reading the license list or the
// upstream statuses failing is fatal; a failed row update is counted in
// Errors and the pass continues.
func (s *ReconcileService) Run(ctx context.Context) (*SyncReport, error) {
	start := time.Now()
	rep := &SyncReport{RunID: ksuid.New().String(), Results: SyncResults{Details: []SyncDetail{}}}
	log := s.log.With("run_id", rep.RunID)
	finish := func(err error) (*SyncReport, error) {
		rep.Duration = time.Since(start)
		return rep, err
	}

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, SyncLockKey, s.lockTTL)
		switch {
		case err != nil:
			log.Warnw("sync lock unavailable, running unlocked", "error", err)
		case !ok:
			return finish(ErrSyncInProgress)
		default:
			defer release()
		}
	}

	rows, err := s.store.ListApprovedWithClientUID(ctx)
	if err != nil {
		return finish(storageErr("list approved licenses", err))
	}
	if len(rows) == 0 {
		log.Infow("affiliate sync: nothing to check")
		return finish(nil)
	}
	rep.Results.Checked = len(rows)

	seen := make(map[string]bool, len(rows))
	uids := make([]string, 0, len(rows))
	for _, l := range rows {
		if uid := *l.ClientUID; !seen[uid] {
			seen[uid] = true
			uids = append(uids, uid)
		}
	}
	statuses, err := s.upstream.ListClientStatuses(ctx, uids)
	if err != nil {
		return finish(fmt.Errorf("fetch client statuses: %w", err))
	}

	for i := range rows {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		s.reconcileOne(ctx, log, rep, &rows[i], statuses)
	}

	r := rep.Results
	log.Infow("affiliate sync done", "checked", r.Checked, "revoked", r.Revoked, "updated", r.Updated, "errors", r.Errors)
	return finish(nil)
}

func (s *ReconcileService) reconcileOne(ctx context.Context, log *zap.SugaredLogger, rep *SyncReport, l *model.License, statuses map[string]string) {
	uid := *l.ClientUID
	upstream, found := statuses[uid]
	// a blank client_status carries no information; treat the client as gone
	found = found && upstream != ""
	now := s.now()

	var (
		action string
		note   string
		err    error
	)
	switch {
	case !found || upstream == model.UpstreamInactive:
		reason := "client_uid not found upstream"
		action = "revoked (not_found)"
		upstream = model.UpstreamNotFound
		if found {
			reason = "upstream status INACTIVE"
			action = "revoked (inactive)"
			upstream = model.UpstreamInactive
		}
		note = appendNote(l.Note, fmt.Sprintf("Auto-revoked: %s (sync %s)", reason, now.Format(time.RFC3339)))
		err = s.store.RevokeUpstream(ctx, l.ID, upstream, note, now)
	case l.ExnessStatus == nil || *l.ExnessStatus != upstream:
		action = "updated → " + upstream
		err = s.store.SetExnessStatus(ctx, l.ID, upstream, now)
	default:
		return
	}

	if err != nil {
		rep.Results.Errors++
		log.Errorw("affiliate sync: update failed", "license_id", l.ID, "client_uid", uid, "error", err)
		return
	}

	to := model.StatusApproved
	if note != "" {
		to = model.StatusRevoked
		rep.Results.Revoked++
	} else {
		rep.Results.Updated++
	}
	rep.Results.Details = append(rep.Results.Details, SyncDetail{Login: l.Login, Server: l.Server, Action: action})
	s.events.Publish(queue.LicenseEvent{
		LicenseID: l.ID,
		Login:     l.Login,
		Server:    l.Server,
		From:      string(model.StatusApproved),
		To:        string(to),
		Upstream:  upstream,
		Source:    queue.SourceSync,
		RunID:     rep.RunID,
		Note:      note,
	})
}

// appendNote adds line to an existing note on a new line.
func appendNote(existing *string, line string) string {
	if existing == nil || *existing == "" {
		return line
	}
	return *existing + "\n" + line
}
