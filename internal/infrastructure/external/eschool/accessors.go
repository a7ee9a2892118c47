package eschool

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
	"github.com/eschool-hub/eschool-watcher/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DIARY OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// DiaryUnits fetches the subjects of the current period.
func (c *Client) DiaryUnits(ctx context.Context) ([]diary.Unit, error) {
	var resp UnitsResponseDTO
	if err := c.Get(ctx, "getDiaryUnits", "student", nil, &resp); err != nil {
		return nil, fmt.Errorf("get diary units: %w", err)
	}
	return c.mapper.UnitsFromDTO(&resp)
}

// Marks fetches every mark of the current evaluation period, in service order.
func (c *Client) Marks(ctx context.Context) ([]diary.Mark, error) {
	var resp PeriodResponseDTO
	if err := c.Get(ctx, "getDiaryPeriod", "student", nil, &resp); err != nil {
		return nil, fmt.Errorf("get marks: %w", err)
	}
	return c.mapper.MarksFromDTO(&resp)
}

// Diary fetches the lessons between from and to. Zero values select the
// default window (two days back, two weeks long).
func (c *Client) Diary(ctx context.Context, from, to time.Time) ([]diary.Lesson, error) {
	resp, err := c.diary(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return c.mapper.LessonsFromDTO(resp)
}

// Homeworks fetches homework assigned in the lessons between from and to.
func (c *Client) Homeworks(ctx context.Context, from, to time.Time) ([]diary.Homework, error) {
	resp, err := c.diary(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return c.mapper.HomeworksFromDTO(resp)
}

// RecentHomeworks fetches homework in the default diary window.
func (c *Client) RecentHomeworks(ctx context.Context) ([]diary.Homework, error) {
	return c.Homeworks(ctx, time.Time{}, time.Time{})
}

func (c *Client) diary(ctx context.Context, from, to time.Time) (*DiaryResponseDTO, error) {
	from, to = timeutil.DiaryWindow(timeutil.Now(), from, to)

	params := url.Values{}
	params.Set("d1", strconv.FormatInt(timeutil.ToMillis(from), 10))
	params.Set("d2", strconv.FormatInt(timeutil.ToMillis(to), 10))

	var resp DiaryResponseDTO
	if err := c.Get(ctx, "diary", "student", params, &resp); err != nil {
		return nil, fmt.Errorf("get diary: %w", err)
	}
	return &resp, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CHAT OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Chats fetches the first ChatCount chat threads.
func (c *Client) Chats(ctx context.Context) ([]diary.Thread, error) {
	params := url.Values{}
	params.Set("newOnly", "false")
	params.Set("row", "1")
	params.Set("rowsCount", strconv.Itoa(c.config.ChatCount))

	var resp []ThreadDTO
	if err := c.Get(ctx, "threads", "chat", params, &resp); err != nil {
		return nil, fmt.Errorf("get chats: %w", err)
	}
	return c.mapper.ThreadsFromDTO(resp)
}

// Messages fetches the most recent messages of a thread, newest first.
func (c *Client) Messages(ctx context.Context, threadID string) ([]diary.Message, error) {
	params := url.Values{}
	params.Set("getNew", "false")
	params.Set("isSearch", "false")
	params.Set("rowStart", "1")
	params.Set("rowsCount", strconv.Itoa(c.config.MessageCount))
	params.Set("threadId", threadID)

	var resp []MessageDTO
	if err := c.Get(ctx, "messages", "chat", params, &resp); err != nil {
		return nil, fmt.Errorf("get messages of thread %s: %w", threadID, err)
	}
	return c.mapper.MessagesFromDTO(threadID, resp)
}

// ChatMembers fetches the participants of a thread.
func (c *Client) ChatMembers(ctx context.Context, threadID string) ([]diary.Member, error) {
	params := url.Values{}
	params.Set("threadId", threadID)

	var resp MembersResponseDTO
	if err := c.Get(ctx, "mem_and_cnt", "chat", params, &resp); err != nil {
		return nil, fmt.Errorf("get members of thread %s: %w", threadID, err)
	}
	return c.mapper.MembersFromDTO(&resp)
}

// ══════════════════════════════════════════════════════════════════════════════
// USER OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Groups fetches the groups available to the account.
func (c *Client) Groups(ctx context.Context) ([]diary.Group, error) {
	var resp []GroupDTO
	if err := c.Get(ctx, "olist", "usr", nil, &resp); err != nil {
		return nil, fmt.Errorf("get groups: %w", err)
	}
	return c.mapper.GroupsFromDTO(resp), nil
}
