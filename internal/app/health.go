package app

import (
	"context"
	"fmt"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/supervisor"
)

// HealthCheck reports an error naming the first supervised task in the
// failed state, and nil if none is failed (starting, running, draining
// and stopped tasks all count as healthy). details
// is a map of task name to its current supervisor.State, following the
// teacher's HealthCheck(ctx) (interface{}, error) contract.
func (a *App) HealthCheck(_ context.Context) (interface{}, error) {
	details := make(map[string]string)
	var firstErr error

	all := append([]*supervisor.Supervisor{a.poolingSup, a.watcherSup, a.sweeperSup, a.senderSup, a.sentinel}, a.syncSups...)
	for _, sup := range all {
		st, err := sup.State()
		details[sup.Name()] = string(st)
		if st == supervisor.StateFailed && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", sup.Name(), err)
		}
	}
	return details, firstErr
}
