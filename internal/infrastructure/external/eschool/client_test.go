package eschool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
	"github.com/eschool-hub/eschool-watcher/internal/domain/shared"
	"github.com/eschool-hub/eschool-watcher/pkg/logger"
)

// fakeEschool is an in-process stand-in for the diary service.
type fakeEschool struct {
	mu           sync.Mutex
	logins       int
	token        string
	alwaysReject bool
	requests     []*http.Request
	routes       map[string]string
}

func newFakeEschool(t *testing.T) (*fakeEschool, *httptest.Server) {
	t.Helper()
	f := &fakeEschool{routes: make(map[string]string)}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeEschool) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Clone(context.Background()))

	switch r.URL.Path {
	case "/ec-server/login":
		_ = r.ParseForm()
		if r.Form.Get("username") != "pupil" || r.Form.Get("password") != HashPassword("secret") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.logins++
		f.token = fmt.Sprintf("token-%d", f.logins)
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: f.token, Path: "/ec-server"})
		w.WriteHeader(http.StatusOK)
		return
	case "/ec-server/student/diary":
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"user":[{"id":77}]}`)
		return
	}

	if f.alwaysReject || !f.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	body, ok := f.routes[r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_, _ = io.WriteString(w, body)
}

func (f *fakeEschool) authorized(r *http.Request) bool {
	c, err := r.Cookie("JSESSIONID")
	return err == nil && f.token != "" && c.Value == f.token
}

// expire invalidates the current session token.
func (f *fakeEschool) expire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
}

func (f *fakeEschool) route(path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = body
}

func (f *fakeEschool) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeEschool) lastRequest() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL + "/ec-server"
	cfg.Logger = logger.Discard()
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func loggedIn(t *testing.T) (*fakeEschool, *Client) {
	t.Helper()
	f, srv := newFakeEschool(t)
	c := newTestClient(t, srv)
	userID, err := c.Login(context.Background(), "pupil", "secret")
	require.NoError(t, err)
	require.Equal(t, "77", userID)
	return f, c
}

func TestHashPassword(t *testing.T) {
	assert.Equal(t, "2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b", HashPassword("secret"))
}

func TestLogin_StoresSession(t *testing.T) {
	f, c := loggedIn(t)

	s := c.Session()
	assert.Equal(t, "pupil", s.Username)
	assert.Equal(t, HashPassword("secret"), s.PasswordDigest)
	assert.Equal(t, "77", s.UserID)
	assert.Equal(t, DefaultPeriod, s.Period)
	assert.Equal(t, "token-1", s.Cookies["JSESSIONID"])
	assert.Equal(t, 1, f.loginCount())
}

func TestLogin_WrongPassword(t *testing.T) {
	_, srv := newFakeEschool(t)
	c := newTestClient(t, srv)

	_, err := c.Login(context.Background(), "pupil", "wrong")

	require.Error(t, err)
	var httpErr *HTTPError
	assert.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
}

func TestGet_BuildsQuery(t *testing.T) {
	f, c := loggedIn(t)
	f.route("/ec-server/student/getDiaryUnits/", `{"result":[{"unitId":1,"unitName":"Algebra"}]}`)

	units, err := c.DiaryUnits(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []diary.Unit{{ID: "1", Name: "Algebra"}}, units)

	req := f.lastRequest()
	assert.Equal(t, "77", req.URL.Query().Get("userId"))
	assert.Equal(t, DefaultPeriod, req.URL.Query().Get("eiId"))
}

func TestGet_ReauthenticatesOnceAndRetries(t *testing.T) {
	f, c := loggedIn(t)
	f.route("/ec-server/student/getDiaryUnits/", `{"result":[]}`)
	f.expire()

	units, err := c.DiaryUnits(context.Background())

	require.NoError(t, err)
	assert.Empty(t, units)
	assert.Equal(t, 2, f.loginCount(), "exactly one re-authentication")
	assert.Equal(t, "token-2", c.Session().Cookies["JSESSIONID"])
}

func TestGet_ReauthExhausted(t *testing.T) {
	f, c := loggedIn(t)
	f.route("/ec-server/student/getDiaryUnits/", `{"result":[]}`)
	f.mu.Lock()
	f.alwaysReject = true
	f.mu.Unlock()

	_, err := c.DiaryUnits(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReauthExhausted)
	assert.True(t, shared.IsTransport(err))
	assert.True(t, shared.IsAuthExpired(err))
	assert.Equal(t, 2, f.loginCount(), "no recursion beyond one re-login")
}

func TestGet_ReauthWithoutCredentials(t *testing.T) {
	f, srv := newFakeEschool(t)
	f.route("/ec-server/student/getDiaryUnits/", `{"result":[]}`)
	c := newTestClient(t, srv)
	c.RestoreSession(diary.Session{UserID: "77", Cookies: map[string]string{"JSESSIONID": "stale"}})

	_, err := c.DiaryUnits(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrNoCredentials)
	assert.Equal(t, 0, f.loginCount())
}

func TestRestoreSession_ReusesCookies(t *testing.T) {
	f, c := loggedIn(t)
	f.route("/ec-server/student/getDiaryUnits/", `{"result":[]}`)
	saved := c.Session()

	restored, err := NewClient(ClientConfig{BaseURL: c.config.BaseURL, Logger: logger.Discard()})
	require.NoError(t, err)
	restored.RestoreSession(saved)

	_, err = restored.DiaryUnits(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, f.loginCount(), "restored session must not log in again")
	assert.Equal(t, "77", restored.UserID())
}

func TestGet_TransportError(t *testing.T) {
	_, c := loggedIn(t)

	_, err := c.Groups(context.Background())

	require.Error(t, err)
	assert.True(t, shared.IsTransport(err))
	assert.False(t, shared.IsAuthExpired(err))
}

func TestGet_MalformedResponse(t *testing.T) {
	f, c := loggedIn(t)
	f.route("/ec-server/student/getDiaryPeriod/", `<html>login</html>`)

	_, err := c.Marks(context.Background())

	require.Error(t, err)
	assert.True(t, shared.IsMalformed(err))
}

func TestMarks_MapsTuple(t *testing.T) {
	f, c := loggedIn(t)
	f.route("/ec-server/student/getDiaryPeriod/", `{"result":[
		{"unitId":10,"unitName":"Algebra","lessonId":500,"startDt":"2024-09-02","lptName":"Test","markVal":"5","mktWt":2},
		{"unitId":11,"unitName":"History","lessonId":501,"startDt":"2024-09-03","lptName":"Lesson"},
		{"unitId":11,"unitName":"History","lessonId":502,"startDt":"2024-09-04","lptName":"Essay","markVal":4,"mktWt":"1.5"}
	]}`)

	marks, err := c.Marks(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []diary.Mark{
		{Value: "5", Weight: 2, Date: "2024-09-02", LessonID: "500", WorkName: "Test", Subject: "Algebra"},
		{Value: "4", Weight: 1.5, Date: "2024-09-04", LessonID: "502", WorkName: "Essay", Subject: "History"},
	}, marks)
}

func TestMarks_SubjectFromSiblingLesson(t *testing.T) {
	f, c := loggedIn(t)
	f.route("/ec-server/student/getDiaryPeriod/", `{"result":[
		{"unitId":12,"lessonId":600,"startDt":"2024-09-05","lptName":"Quiz","markVal":"3"},
		{"unitId":12,"unitName":"Physics","lessonId":601,"startDt":"2024-09-06","lptName":"Lesson"},
		{"unitId":13,"lessonId":602,"startDt":"2024-09-07","lptName":"Test","markVal":"4"}
	]}`)

	marks, err := c.Marks(context.Background())

	require.NoError(t, err)
	require.Len(t, marks, 2)
	assert.Equal(t, "Physics", marks[0].Subject)
	assert.Equal(t, "", marks[1].Subject)
}

func TestMarks_MissingResult(t *testing.T) {
	f, c := loggedIn(t)
	f.route("/ec-server/student/getDiaryPeriod/", `{}`)

	_, err := c.Marks(context.Background())

	assert.True(t, shared.IsMalformed(err))
}

func TestHomeworks_ExtractsFirstVariant(t *testing.T) {
	f, c := loggedIn(t)
	f.route("/ec-server/student/diary/", `{"lesson":[
		{"date":1725264000000,"unit":{"id":1,"name":"Algebra"},"part":[
			{"variant":[]},
			{"variant":[{"id":900,"text":"p. 12","file":[{"id":3,"fileName":"task.pdf"}]}]}
		]},
		{"date":1725350400000,"unit":{"id":2,"name":"PE"},"part":null},
		{"date":1725436800000,"unit":{"id":3,"name":"Art"},"part":[{"variant":[{"id":901,"text":""}]}]}
	]}`)

	hws, err := c.RecentHomeworks(context.Background())

	require.NoError(t, err)
	require.Len(t, hws, 1)
	assert.Equal(t, diary.Homework{
		ID:          "900",
		Lesson:      "Algebra",
		Date:        "1725264000000",
		Text:        "p. 12",
		Attachments: []diary.Attachment{{FileID: "3", FileName: "task.pdf"}},
	}, hws[0])

	q := f.lastRequest().URL.Query()
	assert.NotEmpty(t, q.Get("d1"))
	assert.NotEmpty(t, q.Get("d2"))
}

func TestChatsAndMessages(t *testing.T) {
	f, c := loggedIn(t)
	f.route("/ec-server/chat/threads/", `[{"threadId":12,"subject":"Class","senderFio":"Teacher","newMsgCount":1}]`)
	f.route("/ec-server/chat/messages/", `[
		{"msgId":3,"senderFio":"Teacher","msg":"newest","createDate":1725436800000},
		{"msgId":2,"senderFio":"Teacher","msg":"older","createDate":1725350400000}
	]`)

	threads, err := c.Chats(context.Background())
	require.NoError(t, err)
	require.Equal(t, []diary.Thread{{ID: "12", Subject: "Class", Sender: "Teacher", NewCount: 1}}, threads)
	assert.Equal(t, "250", f.lastRequest().URL.Query().Get("rowsCount"))

	msgs, err := c.Messages(context.Background(), "12")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "3", msgs[0].ID)
	assert.Equal(t, "12", msgs[0].ThreadID)
	assert.Equal(t, "newest", msgs[0].Body)
	assert.Equal(t, int64(1725436800000), msgs[0].SentAt.UnixMilli())

	q := f.lastRequest().URL.Query()
	assert.Equal(t, "12", q.Get("threadId"))
	assert.Equal(t, "3", q.Get("rowsCount"))
}

func TestChatMembers(t *testing.T) {
	f, c := loggedIn(t)
	f.route("/ec-server/chat/mem_and_cnt/", `{"members":[{"prsId":5,"fio":"Ivanova A."}]}`)

	members, err := c.ChatMembers(context.Background(), "12")

	require.NoError(t, err)
	assert.Equal(t, []diary.Member{{ID: "5", Name: "Ivanova A."}}, members)
}

func TestPut_SendsJSON(t *testing.T) {
	f, c := loggedIn(t)
	f.route("/ec-server/chat/sendNew", `{"ok":true}`)

	var out struct {
		OK bool `json:"ok"`
	}
	err := c.Put(context.Background(), "sendNew", map[string]string{"msgText": "hi"}, nil, "", &out)

	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, http.MethodPut, f.lastRequest().Method)
}

func TestDownloadFile(t *testing.T) {
	f, c := loggedIn(t)
	f.route("/ec-server/files/3", "PDFDATA")

	data, err := c.DownloadFile(context.Background(), "3")

	require.NoError(t, err)
	assert.Equal(t, []byte("PDFDATA"), data)
}

func TestFlexString(t *testing.T) {
	var v struct {
		A FlexString `json:"a"`
		B FlexString `json:"b"`
		C FlexString `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"x","b":12,"c":null}`), &v))

	assert.Equal(t, FlexString("x"), v.A)
	assert.Equal(t, FlexString("12"), v.B)
	assert.Equal(t, int64(12), v.B.Int64())
	assert.Equal(t, FlexString(""), v.C)
}
