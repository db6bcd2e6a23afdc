/*
Package batcher turns a function that only knows how to process N inputs at
once into one callers can invoke one input at a time.

A caller calls Batcher.Call with a single input value and blocks until
that input's share of a batch has been processed; StreamBatcher.CallStream
instead returns a Stream at once, whose Recv blocks for each value. Behind the call, the Batcher accumulates concurrent callers into
a batch bounded by size and by a wait timer, invokes the user-supplied
BatchFunc exactly once per batch, and routes each element of the result
back to the caller that contributed the corresponding input.

Batcher and StreamBatcher share one generic formation core; a Registry
layers per-receiver caching on top for the common case of one Batcher per
service instance.

Differences from a naive one-goroutine-per-caller fan-out:
  - A batch is dispatched strictly sequentially; the user function is never
    entered re-entrantly for a single Batcher. Parallelism comes from
    running multiple Batchers, not from racing dispatches.
  - A caller whose context is cancelled before its batch forms is excised
    from the pending batch rather than merely ignored at fan-out.
  - A panic inside the user function is recovered and broadcast to the
    batch as an ordinary user error instead of crashing the formation loop.
*/
package batcher
