// Package review holds the PR strategy gate and review-feedback progress
// accounting.
package review

import (
	"fmt"

	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/ticket"
)

// GateDecision is the outcome of the PR strategy gate for one changeset.
type GateDecision struct {
	Strategy    string
	ParentState ticket.ReviewLifecycle
	AllowPR     bool
	Reason      string
}

// Decide is a pure total function over (strategy, parent lifecycle):
//
//	parallel             always allow
//	no parent            always allow
//	on-ready             block only while the parent is pushed without a PR
//	on-parent-approved   allow once the parent is approved or terminal
//	sequential (default) allow only once the parent is merged
func Decide(strategy string, parentState ticket.ReviewLifecycle) GateDecision {
	d := GateDecision{Strategy: strategy, ParentState: parentState}

	if strategy == config.StrategyParallel {
		d.AllowPR = true
		d.Reason = fmt.Sprintf("strategy:%s", strategy)
		return d
	}

	if parentState == ticket.LifecycleNone || parentState == ticket.LifecycleLocalOnly {
		d.AllowPR = true
		d.Reason = "no-parent"
		return d
	}

	switch strategy {
	case config.StrategyOnReady:
		if parentState == ticket.LifecyclePushed {
			d.Reason = fmt.Sprintf("blocked:%s", parentState)
			return d
		}
		d.AllowPR = true
		d.Reason = fmt.Sprintf("parent:%s", parentState)
		return d

	case config.StrategyOnParentApproved:
		switch parentState {
		case ticket.LifecycleApproved, ticket.LifecycleMerged, ticket.LifecycleClosed:
			d.AllowPR = true
			d.Reason = fmt.Sprintf("parent:%s", parentState)
		default:
			d.Reason = fmt.Sprintf("blocked:%s", parentState)
		}
		return d

	default: // sequential
		d.Strategy = config.StrategySequential
		if parentState.IsIntegrated() {
			d.AllowPR = true
			d.Reason = fmt.Sprintf("parent:%s", parentState)
		} else {
			d.Reason = fmt.Sprintf("blocked:%s", parentState)
		}
		return d
	}
}
