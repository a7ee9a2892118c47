// Package diary contains the domain model of the eSchool electronic diary client.
//
// The package defines:
//
//   - Items fetched from the service: Homework, Mark, Message, Thread, Member,
//     Group, Unit, Lesson
//   - Session: the credential/session state owned by the transport
//   - Registry: the seen-item set used to tell new items from delivered ones
//   - Snapshot: everything needed to resume polling after a restart
//   - SnapshotStore: the persistence contract implemented in infrastructure
//
// # Identity rules
//
// Every item kind that is polled has a string identity used for deduplication:
//
//	Homework -> Homework.ID
//	Mark     -> Mark.LessonID (two marks on one lesson share an identity)
//	Message  -> Message.ID
//
// # Baseline
//
// A Registry that was never populated is baselined from the first full
// listing of its kind; nothing in that listing is delivered as new.
//
//	regs := diary.NewRegistries()
//	if !regs.Marks.Populated() {
//	    regs.Marks.Baseline(diary.Keys(marks))
//	}
//
// The package has zero external dependencies.
package diary
