package scheduler

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/calculated-finance/calc-go/internal/modules/triggers"
	"github.com/calculated-finance/calc-go/internal/modules/vaults"
)

// TriggerExecutor runs one execution for a ready trigger.
type TriggerExecutor interface {
	ExecuteTrigger(vaultID uint64) error
}

// DueTriggerLister lists time triggers whose target has elapsed.
type DueTriggerLister interface {
	Due(now time.Time, limit int) ([]triggers.TimeTrigger, error)
}

// timeTriggerBatchLimit bounds one sweep; anything left over is picked up by
// the next tick.
const timeTriggerBatchLimit = 200

// TimeTriggerJob executes every due time trigger.
type TimeTriggerJob struct {
	lister   DueTriggerLister
	executor TriggerExecutor
	log      zerolog.Logger
}

// NewTimeTriggerJob creates the due time trigger watcher.
func NewTimeTriggerJob(lister DueTriggerLister, executor TriggerExecutor, log zerolog.Logger) *TimeTriggerJob {
	return &TimeTriggerJob{
		lister:   lister,
		executor: executor,
		log:      log.With().Str("job", "time_triggers").Logger(),
	}
}

// Name returns the job name
func (j *TimeTriggerJob) Name() string {
	return "time_triggers"
}

// Run executes all due time triggers. One vault failing does not stop the
// sweep.
func (j *TimeTriggerJob) Run() error {
	due, err := j.lister.Due(time.Now().UTC(), timeTriggerBatchLimit)
	if err != nil {
		return err
	}

	for _, trigger := range due {
		if err := j.executor.ExecuteTrigger(trigger.VaultID); err != nil {
			if errors.Is(err, vaults.ErrEnginePaused) {
				return nil
			}
			j.log.Error().
				Err(err).
				Uint64("vault_id", trigger.VaultID).
				Msg("Trigger execution failed")
		}
	}

	return nil
}
