// Package controller implements the bus-role controller for an IEEE-488
// (GPIB) bus driven through a microcontroller bridge.
//
// The controller owns Controller-In-Charge status and is the only place that
// decides which device talks and which listens. Every write and every read it
// issues is preceded by a full role assignment: UNT and UNL first, then the
// new Talker, then the new Listener. No second Talker is ever addressed while
// one still holds the role, and no Listener from an earlier transaction
// survives into the next one.
//
// # Usage
//
//	link := gpib.NewSimLink(gpib.LinkInfo{Name: "sim"}, gpib.NewInstrument(0x0a, "HP54600B"))
//	ctl, err := controller.New(link, controller.WithCICAddress(0x00))
//
//	if !ctl.Ping() {
//		log.Warn("bridge did not answer ping")
//	}
//	err = ctl.Initialize(true) // claim CIC, hold NRFD, pulse IFC
//	err = ctl.SetRemote(true)  // assert REN, sticky
//	err = ctl.Clear(true)      // DCL to every device
//
//	id, err := ctl.Query(0x0a, "ID?")
//
// # Transactions
//
// A transaction is a DirectedWrite followed by a DirectedRead to the same
// address:
//
//	Idle -> WriteInFlight -> AwaitingRead -> ReadInFlight -> Idle
//
// Query performs both halves while holding the controller, so nothing can
// slip in between. A DirectedRead without a matching DirectedWrite is
// rejected with gpib.ErrMisuse rather than guessed at.
//
// # Errors
//
//   - gpib.ErrLink: the bridge or serial link failed. Not retried here.
//   - gpib.ErrTimeout: no terminator within the read window. Propagated.
//   - gpib.ErrMisuse: caller contract violation. Fatal to the operation only.
//
// A false Ping is not an error.
//
// # No-data sentinel
//
// The bridge reports "nothing to read" as the single byte 0xFF. DirectedRead
// turns exactly that payload into an empty result. An instrument whose whole
// answer is that one byte cannot be distinguished from silence.
package controller
