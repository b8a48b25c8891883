// Package conversation tracks per-session dialogue state: detected topics,
// recognized intents, the current conversation phase and a rolling flow log
// with aggregate statistics.
//
// Topic detection is a lexical heuristic behind the TopicDetector interface;
// swap in a semantic implementation at wiring time without touching the
// tracker. The tracker itself never interprets text beyond what the detector
// reports.
package conversation
