// Package motion detects motion in a live camera feed by comparing coarse
// brightness grids of successive sampled frames.
//
// # Overview
//
// A camera callback hands every frame to Detector.Consume. The detector
// keeps only the newest one and, every CheckInterval, samples it:
//
//	Consume ──► [latest frame] ──tick──► luma decode ──► darkness gate ──► engine
//	                                                        │                 │
//	                                                     TooDark       MotionDetected
//	                                                        └──────► Bus ◄────┘
//	                                                                  │
//	                                                             Sink.Notify
//
// The engine compares each sampled frame against the previous one (the
// "background") on an XBoxes-by-YBoxes grid of summed luma. A cell whose
// sum moved by more than Leniency counts as changed; any changed cell is
// motion. The background drifts: every analysed frame replaces it.
//
// # Usage
//
//	det, err := motion.New(motion.DefaultConfig(), motion.SinkFunc(func(ev motion.Event) {
//	    log.Printf("%s at %s", ev.Kind, ev.At)
//	}))
//	if err != nil { ... }
//	if err := det.Start(ctx); err != nil { ... }
//	defer det.Stop()
//
//	// camera callback
//	det.Consume(nv21, width, height)
//
// # Threading
//
// Consume is non-blocking and safe from any goroutine. Sampling runs on one
// goroutine owned by the detector. Sinks are called from a separate
// delivery goroutine per sink, so a slow sink never delays sampling.
//
// Each Detector is an independent session; several may run at once.
package motion
