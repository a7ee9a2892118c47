package eschool

import (
	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
	"github.com/eschool-hub/eschool-watcher/internal/domain/shared"
	"github.com/eschool-hub/eschool-watcher/pkg/timeutil"
)

// Mapper converts service DTOs into domain items.
type Mapper struct{}

// NewMapper creates a new Mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// UnitsFromDTO maps getDiaryUnits.
func (m *Mapper) UnitsFromDTO(resp *UnitsResponseDTO) ([]diary.Unit, error) {
	if resp.Result == nil {
		return nil, shared.Malformed("DiaryUnits", "missing result")
	}
	units := make([]diary.Unit, 0, len(*resp.Result))
	for _, u := range *resp.Result {
		units = append(units, diary.Unit{ID: u.UnitID.String(), Name: u.UnitName})
	}
	return units, nil
}

// MarksFromDTO keeps the lessons that carry a mark. A marked lesson without
// a unit name borrows it from another lesson of the same unit.
func (m *Mapper) MarksFromDTO(resp *PeriodResponseDTO) ([]diary.Mark, error) {
	if resp.Result == nil {
		return nil, shared.Malformed("Marks", "missing result")
	}

	units := make(map[FlexString]string, len(*resp.Result))
	for _, lesson := range *resp.Result {
		if lesson.UnitName != "" {
			units[lesson.UnitID] = lesson.UnitName
		}
	}

	marks := make([]diary.Mark, 0)
	for _, lesson := range *resp.Result {
		if lesson.MarkVal == "" {
			continue
		}
		subject := lesson.UnitName
		if subject == "" {
			subject = units[lesson.UnitID]
		}
		if lesson.LessonID == "" {
			return nil, shared.Malformed("Marks", "mark without lessonId")
		}
		marks = append(marks, diary.Mark{
			Value:    lesson.MarkVal.String(),
			Weight:   float64(lesson.MktWt),
			Date:     lesson.StartDt.String(),
			LessonID: lesson.LessonID.String(),
			WorkName: lesson.LptName,
			Subject:  subject,
		})
	}
	return marks, nil
}

// LessonsFromDTO maps the diary endpoint.
func (m *Mapper) LessonsFromDTO(resp *DiaryResponseDTO) ([]diary.Lesson, error) {
	if resp.Lesson == nil {
		return nil, shared.Malformed("Diary", "missing lesson")
	}
	lessons := make([]diary.Lesson, 0, len(*resp.Lesson))
	for _, l := range *resp.Lesson {
		if l.Unit == nil {
			return nil, shared.Malformed("Diary", "lesson without unit")
		}
		lesson := diary.Lesson{
			ID:   l.LessonID.String(),
			Unit: l.Unit.Name,
			Date: timeutil.FromMillis(l.Date.Int64()),
		}
		if hw, ok := homeworkFromLesson(l); ok {
			lesson.Homework = &hw
		}
		lessons = append(lessons, lesson)
	}
	return lessons, nil
}

// HomeworksFromDTO extracts homework from diary lessons: the first part that
// has variants, if its first variant has text or files.
func (m *Mapper) HomeworksFromDTO(resp *DiaryResponseDTO) ([]diary.Homework, error) {
	if resp.Lesson == nil {
		return nil, shared.Malformed("Homeworks", "missing lesson")
	}
	homeworks := make([]diary.Homework, 0)
	for _, l := range *resp.Lesson {
		if l.Unit == nil {
			return nil, shared.Malformed("Homeworks", "lesson without unit")
		}
		if hw, ok := homeworkFromLesson(l); ok {
			homeworks = append(homeworks, hw)
		}
	}
	return homeworks, nil
}

func homeworkFromLesson(l DiaryLessonDTO) (diary.Homework, bool) {
	var part *PartDTO
	for i := range l.Part {
		if len(l.Part[i].Variant) > 0 {
			part = &l.Part[i]
			break
		}
	}
	if part == nil {
		return diary.Homework{}, false
	}

	variant := part.Variant[0]
	if variant.Text == "" && len(variant.File) == 0 {
		return diary.Homework{}, false
	}

	attachments := make([]diary.Attachment, 0, len(variant.File))
	for _, f := range variant.File {
		attachments = append(attachments, diary.Attachment{FileID: f.ID.String(), FileName: f.FileName})
	}

	unit := ""
	if l.Unit != nil {
		unit = l.Unit.Name
	}

	return diary.Homework{
		ID:          variant.ID.String(),
		Lesson:      unit,
		Date:        l.Date.String(),
		Text:        variant.Text,
		Attachments: attachments,
	}, true
}

// ThreadsFromDTO maps chat threads.
func (m *Mapper) ThreadsFromDTO(dtos []ThreadDTO) ([]diary.Thread, error) {
	threads := make([]diary.Thread, 0, len(dtos))
	for _, t := range dtos {
		if t.ThreadID == "" {
			return nil, shared.Malformed("Chats", "thread without threadId")
		}
		threads = append(threads, diary.Thread{
			ID:       t.ThreadID.String(),
			Subject:  t.Subject,
			Sender:   t.SenderFio,
			NewCount: t.NewMsgCount,
		})
	}
	return threads, nil
}

// MessagesFromDTO maps chat messages, keeping the service order (newest first).
func (m *Mapper) MessagesFromDTO(threadID string, dtos []MessageDTO) ([]diary.Message, error) {
	msgs := make([]diary.Message, 0, len(dtos))
	for _, d := range dtos {
		if d.MsgID == "" {
			return nil, shared.Malformed("Messages", "message without msgId")
		}
		tid := d.ThreadID.String()
		if tid == "" {
			tid = threadID
		}
		msgs = append(msgs, diary.Message{
			ID:       d.MsgID.String(),
			ThreadID: tid,
			Sender:   d.SenderFio,
			Body:     d.Msg,
			SentAt:   timeutil.FromMillis(d.CreateDate.Int64()),
		})
	}
	return msgs, nil
}

// MembersFromDTO maps chat members.
func (m *Mapper) MembersFromDTO(resp *MembersResponseDTO) ([]diary.Member, error) {
	if resp.Members == nil {
		return nil, shared.Malformed("ChatMembers", "missing members")
	}
	members := make([]diary.Member, 0, len(*resp.Members))
	for _, mem := range *resp.Members {
		members = append(members, diary.Member{ID: mem.PrsID.String(), Name: mem.Fio})
	}
	return members, nil
}

// GroupsFromDTO maps usr/olist.
func (m *Mapper) GroupsFromDTO(dtos []GroupDTO) []diary.Group {
	groups := make([]diary.Group, 0, len(dtos))
	for _, g := range dtos {
		groups = append(groups, diary.Group{ID: g.GroupID.String(), Name: g.GroupName})
	}
	return groups
}
