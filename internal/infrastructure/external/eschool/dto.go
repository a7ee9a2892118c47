package eschool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// FLEXIBLE SCALARS
// The service is inconsistent about quoting: ids and marks arrive either as
// JSON strings or as JSON numbers depending on the endpoint.
// ══════════════════════════════════════════════════════════════════════════════

// FlexString accepts a JSON string or number and keeps its text.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("flex string: unexpected %s", string(b))
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the text value.
func (f FlexString) String() string {
	return string(f)
}

// Int64 parses the value as an integer. Returns 0 if it is not one.
func (f FlexString) Int64() int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(string(f)), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// FlexFloat accepts a JSON number or a numeric string.
type FlexFloat float64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	var s FlexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(strings.Replace(string(s), ",", ".", 1), 64)
	if err != nil {
		return fmt.Errorf("flex float: %w", err)
	}
	*f = FlexFloat(v)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTH DTOs
// ══════════════════════════════════════════════════════════════════════════════

// StateDTO is the body of student/diary, used to resolve the user id after login.
type StateDTO struct {
	User []struct {
		ID FlexString `json:"id"`
	} `json:"user"`
}

// ══════════════════════════════════════════════════════════════════════════════
// DIARY DTOs
// ══════════════════════════════════════════════════════════════════════════════

// UnitDTO is a subject returned by getDiaryUnits.
type UnitDTO struct {
	UnitID   FlexString `json:"unitId"`
	UnitName string     `json:"unitName"`
}

// UnitsResponseDTO is the body of getDiaryUnits.
type UnitsResponseDTO struct {
	Result *[]UnitDTO `json:"result"`
}

// PeriodLessonDTO is one lesson of getDiaryPeriod. Lessons carrying a mark
// have a non-empty MarkVal.
type PeriodLessonDTO struct {
	UnitID   FlexString `json:"unitId"`
	UnitName string     `json:"unitName"`
	MarkVal  FlexString `json:"markVal"`
	MktWt    FlexFloat  `json:"mktWt"`
	StartDt  FlexString `json:"startDt"`
	LessonID FlexString `json:"lessonId"`
	LptName  string     `json:"lptName"`
}

// PeriodResponseDTO is the body of getDiaryPeriod.
type PeriodResponseDTO struct {
	Result *[]PeriodLessonDTO `json:"result"`
}

// FileDTO is a homework attachment.
type FileDTO struct {
	ID       FlexString `json:"id"`
	FileName string     `json:"fileName"`
}

// VariantDTO is a homework variant of a lesson part.
type VariantDTO struct {
	ID   FlexString `json:"id"`
	Text string     `json:"text"`
	File []FileDTO  `json:"file"`
}

// PartDTO is a part of a diary lesson.
type PartDTO struct {
	Variant []VariantDTO `json:"variant"`
}

// DiaryLessonDTO is one lesson of the diary endpoint.
type DiaryLessonDTO struct {
	LessonID FlexString `json:"lessonId"`
	Date     FlexString `json:"date"`
	Unit     *struct {
		ID   FlexString `json:"id"`
		Name string     `json:"name"`
	} `json:"unit"`
	Part []PartDTO `json:"part"`
}

// DiaryResponseDTO is the body of the diary endpoint.
type DiaryResponseDTO struct {
	Lesson *[]DiaryLessonDTO `json:"lesson"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CHAT DTOs
// ══════════════════════════════════════════════════════════════════════════════

// ThreadDTO is a chat thread.
type ThreadDTO struct {
	ThreadID    FlexString `json:"threadId"`
	Subject     string     `json:"subject"`
	SenderFio   string     `json:"senderFio"`
	NewMsgCount int        `json:"newMsgCount"`
}

// MessageDTO is a chat message.
type MessageDTO struct {
	MsgID      FlexString `json:"msgId"`
	ThreadID   FlexString `json:"threadId"`
	SenderFio  string     `json:"senderFio"`
	Msg        string     `json:"msg"`
	CreateDate FlexString `json:"createDate"`
}

// MemberDTO is a chat participant.
type MemberDTO struct {
	PrsID FlexString `json:"prsId"`
	Fio   string     `json:"fio"`
}

// MembersResponseDTO is the body of mem_and_cnt.
type MembersResponseDTO struct {
	Members *[]MemberDTO `json:"members"`
}

// GroupDTO is an entry of usr/olist.
type GroupDTO struct {
	GroupID   FlexString `json:"groupId"`
	GroupName string     `json:"groupName"`
}
