/*
Package agent implements the capture scheduler.

An Agent moves through Initializing → Validating → Running → ShuttingDown →
Stopped. Validation of the configuration happens before New is called; the
agent itself validates its collaborators, connects to storage (a failure is
only a warning) and then opens the camera (a failure is fatal).

Every tick runs three steps in a fixed order:

 1. Drain: every entry pending at the start of the tick is uploaded, oldest
    first. Successful uploads remove the entry; failures leave it.
 2. Capture: one image is captured into the queue's staging area and moved
    into the queue. A camera failure skips the rest of the tick.
 3. Upload: the fresh capture is uploaded and removed on success.

The agent then sleeps for the interval. Cancelling the context interrupts
the sleep; an upload already in progress runs to completion, bounded by
the upload timeout.
*/
package agent
