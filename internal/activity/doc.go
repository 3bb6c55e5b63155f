// Package activity runs a compiled op plan over a range of cycles.
//
// An [Activity] bundles everything a run needs: the cycle sequencer, the
// admission limiters, the op plan, the error router and the per-slot
// variable arena. An [Executor] owns the workers that drive it:
//
//	act, err := activity.New(activity.Options{
//		Name:      "main",
//		Cycles:    cycles.Range{Start: 0, End: 1_000_000},
//		Threads:   8,
//		CycleRate: &spec,
//		Plan:      plan,
//	})
//	if err != nil {
//		return err
//	}
//	exec := activity.NewExecutor(act)
//	res := exec.Run(ctx)
//
// While the run is in progress [Executor.SetThreads] and
// [Executor.ApplyRate] adjust the worker count and the cycle rate. Every
// cycle in the range is issued to exactly one worker, whatever the
// resizing. Workers retire cooperatively: a worker asked to leave
// finishes the op in flight and the rest of the segment it claimed.
//
// # Failures
//
// Op errors go through the [faults.Router]. Recoverable errors are
// counted and the run continues; a fatal verdict halts the sequencer and
// moves the executor to [StateErrored]. A panic in a worker is recovered
// and reported in [Result.Err].
package activity
