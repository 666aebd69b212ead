package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/opencx/agentsim/internal/broker"
	"github.com/opencx/agentsim/internal/capability"
	"github.com/opencx/agentsim/internal/channel"
	"github.com/opencx/agentsim/internal/directory"
	"github.com/opencx/agentsim/internal/domain"
	"github.com/opencx/agentsim/internal/identity"
	"github.com/opencx/agentsim/internal/media"
	"github.com/opencx/agentsim/internal/reporting"
	"github.com/opencx/agentsim/internal/voice"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	dir := directory.New()
	dir.Add(&domain.Agent{UserName: "alice@example.com", FirstName: "Alice", LastName: "Doe", AgentLogin: "5001", DBID: 101, Password: "secret"})
	dir.Add(&domain.Agent{UserName: "bob@example.com", FirstName: "Bob", LastName: "Ray", AgentLogin: "5002", DBID: 102})
	dir.Add(&domain.Agent{UserName: "carol@example.com", FirstName: "Carol", LastName: "Lee", AgentLogin: "9001", DBID: 201, Supervisor: true})

	b := broker.New(time.Millisecond)
	recorder := reporting.New(nil, b)
	channels := channel.NewRegistry()
	voiceEngine := voice.NewEngine(voice.Config{AutoAnswerDelay: time.Hour}, capability.Default(), dir, channels, b, recorder)
	workbins := []*media.Workbin{{ID: "wb-1", Name: "Drafts"}}
	mediaEngine := media.NewEngine(dir, channels, b, recorder, nil, workbins)
	ids := identity.NewManager(dir)

	return NewHandler(ids, dir, voiceEngine, mediaEngine, b, channels, recorder, nil, "", true)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func signIn(t *testing.T, router http.Handler, username, password string) *http.Cookie {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/auth/v3/sign-in", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected sign-in status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == identity.CodeCookieName {
			return c
		}
	}
	t.Fatalf("Expected %s cookie on sign-in response", identity.CodeCookieName)
	return nil
}

func TestSignInSetsLoginCookie(t *testing.T) {
	h := newTestHandler(t)
	router := h.Routes()

	cookie := signIn(t, router, "alice@example.com", "secret")
	if cookie.Value == "" {
		t.Error("Expected non-empty login code in cookie")
	}
	if !cookie.HttpOnly {
		t.Error("Expected login cookie to be HttpOnly")
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	h := newTestHandler(t)
	router := h.Routes()

	rec := doJSON(t, router, http.MethodPost, "/auth/v3/sign-in", map[string]string{
		"username": "alice@example.com",
		"password": "wrong",
	}, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rec.Code)
	}
}

func TestUserinfoRequiresIdentity(t *testing.T) {
	h := newTestHandler(t)
	router := h.Routes()

	rec := doJSON(t, router, http.MethodGet, "/auth/v3/userinfo", nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected status 403, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	status, _ := body["status"].(map[string]any)
	if code, _ := status["code"].(float64); int(code) != 603 {
		t.Errorf("Expected failure code 603, got %v", status["code"])
	}
}

func TestUserinfoReturnsAgentRecord(t *testing.T) {
	h := newTestHandler(t)
	router := h.Routes()
	cookie := signIn(t, router, "alice@example.com", "secret")

	rec := doJSON(t, router, http.MethodGet, "/auth/v3/userinfo", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["userName"] != "alice@example.com" {
		t.Errorf("Expected userName alice@example.com, got %v", body["userName"])
	}
	if body["agentLogin"] != "5001" {
		t.Errorf("Expected agentLogin 5001, got %v", body["agentLogin"])
	}
}

func TestTokenPasswordGrant(t *testing.T) {
	h := newTestHandler(t)
	router := h.Routes()

	rec := doJSON(t, router, http.MethodPost, "/auth/v3/oauth/token", map[string]string{
		"grant_type": "password",
		"username":   "bob@example.com",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatal("Expected non-empty access_token")
	}

	req := httptest.NewRequest(http.MethodGet, "/workspace/v3/current-session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("Expected status 200 with bearer token, got %d", rec2.Code)
	}
	body2 := decodeBody(t, rec2)
	data, _ := body2["data"].(map[string]any)
	user, _ := data["user"].(map[string]any)
	if user["userName"] != "bob@example.com" {
		t.Errorf("Expected session user bob@example.com, got %v", user["userName"])
	}
}

func TestCallFlowThroughAPI(t *testing.T) {
	h := newTestHandler(t)
	router := h.Routes()
	cookie := signIn(t, router, "alice@example.com", "secret")

	rec := doJSON(t, router, http.MethodPost, "/workspace/v3/voice/calls", map[string]any{
		"operationId": "op-1",
		"data":        map[string]any{"destination": "5002"},
	}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["operationId"] != "op-1" {
		t.Errorf("Expected operationId op-1 echoed, got %v", body["operationId"])
	}
	data, _ := body["data"].(map[string]any)
	callID, _ := data["id"].(string)
	if callID == "" {
		t.Fatal("Expected call id in response")
	}

	call := h.voice.GetCall(callID)
	if call == nil {
		t.Fatal("Expected call to be registered with the engine")
	}
	if call.State() != domain.StateDialing && call.State() != domain.StateRinging {
		t.Errorf("Expected new call Dialing or Ringing, got %s", call.State())
	}

	rec = doJSON(t, router, http.MethodPost, "/workspace/v3/voice/calls/"+callID+"/answer", map[string]any{
		"operationId": "op-2",
	}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on answer, got %d", rec.Code)
	}
	if call.State() != domain.StateEstablished {
		t.Errorf("Expected call Established after answer, got %s", call.State())
	}

	rec = doJSON(t, router, http.MethodPost, "/workspace/v3/voice/calls/"+callID+"/release", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on release, got %d", rec.Code)
	}
	if call.State() != domain.StateReleased {
		t.Errorf("Expected call Released, got %s", call.State())
	}
}

func TestVoiceLogoutMarksLineLoggedOut(t *testing.T) {
	h := newTestHandler(t)
	router := h.Routes()
	cookie := signIn(t, router, "alice@example.com", "secret")

	rec := doJSON(t, router, http.MethodPost, "/workspace/v3/voice/logout", map[string]any{
		"operationId": "op-5",
	}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	agent := h.dir.ByIdentity("alice@example.com")
	if got := h.channels.DNSnapshot(agent).AgentState; got != channel.StateLoggedOut {
		t.Errorf("Expected line state LoggedOut, got %s", got)
	}
}

func TestUnknownCallOperationIsNotImplemented(t *testing.T) {
	h := newTestHandler(t)
	router := h.Routes()
	cookie := signIn(t, router, "alice@example.com", "secret")

	rec := doJSON(t, router, http.MethodPost, "/workspace/v3/voice/calls/some-id/frobnicate", nil, cookie)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("Expected status 501, got %d", rec.Code)
	}
}

func TestSimCreateCallRingsTarget(t *testing.T) {
	h := newTestHandler(t)
	router := h.Routes()

	rec := doJSON(t, router, http.MethodPost, "/sim/v3/voice/create-call", map[string]string{
		"target": "bob@example.com",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	data, _ := body["data"].(map[string]any)
	callID, _ := data["id"].(string)
	if callID == "" {
		t.Fatal("Expected call id in response")
	}
	call := h.voice.GetCall(callID)
	if call == nil {
		t.Fatal("Expected call to be registered with the engine")
	}
	if call.Dest().State() != domain.StateRinging {
		t.Errorf("Expected target leg Ringing, got %s", call.Dest().State())
	}
}

func TestSimCreateCallUnknownTarget(t *testing.T) {
	h := newTestHandler(t)
	router := h.Routes()

	rec := doJSON(t, router, http.MethodPost, "/sim/v3/voice/create-call", map[string]string{
		"target": "nobody@example.com",
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestMediaComposeAndSend(t *testing.T) {
	h := newTestHandler(t)
	router := h.Routes()
	cookie := signIn(t, router, "alice@example.com", "secret")

	rec := doJSON(t, router, http.MethodPost, "/workspace/v3/media/email/interactions/create", map[string]any{
		"operationId": "op-3",
		"data": map[string]any{
			"from":    "alice@corp.example",
			"to":      "customer@example.net",
			"subject": "Hello",
			"body":    "Draft body",
		},
	}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	data, _ := body["data"].(map[string]any)
	id, _ := data["id"].(string)
	if id == "" {
		t.Fatal("Expected interaction id in response")
	}
	ixn := h.media.GetInteraction(id)
	if ixn == nil {
		t.Fatal("Expected interaction registered with the engine")
	}
	if ixn.State != domain.StateComposing {
		t.Errorf("Expected draft state Composing, got %s", ixn.State)
	}

	rec = doJSON(t, router, http.MethodPost, "/workspace/v3/media/email/interactions/"+id+"/send", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on send, got %d", rec.Code)
	}
	if ixn.State != domain.StateSent {
		t.Errorf("Expected state Sent, got %s", ixn.State)
	}
}

func TestWorkbinsOperationAnswersOK(t *testing.T) {
	h := newTestHandler(t)
	router := h.Routes()
	cookie := signIn(t, router, "alice@example.com", "secret")

	rec := doJSON(t, router, http.MethodPost, "/workspace/v3/workbins/get-workbins", map[string]any{
		"operationId": "op-4",
	}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	status, _ := body["status"].(map[string]any)
	if code, _ := status["code"].(float64); int(code) != 0 {
		t.Errorf("Expected success code 0, got %v", status["code"])
	}
}

func TestNotificationsBringupSequence(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	cookie := signIn(t, srv.Config.Handler, "alice@example.com", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/workspace/v3/notifications"
	header := http.Header{}
	header.Set("Cookie", cookie.Name+"="+cookie.Value)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("Failed to dial notifications socket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	read := func() (string, map[string]any) {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Failed to read notification: %v", err)
		}
		var msg struct {
			Topic string         `json:"topic"`
			Data  map[string]any `json:"data"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("Failed to decode notification %q: %v", raw, err)
		}
		return msg.Topic, msg.Data
	}

	topic, data := read()
	if topic != broker.TopicInitialization {
		t.Fatalf("Expected first message on %s, got %s", broker.TopicInitialization, topic)
	}
	if data["messageType"] != "WorkspaceInitializationProgress" {
		t.Errorf("Expected WorkspaceInitializationProgress, got %v", data["messageType"])
	}

	_, data = read()
	if data["messageType"] != "WorkspaceInitializationProgress" {
		t.Errorf("Expected second progress message, got %v", data["messageType"])
	}

	_, data = read()
	if data["messageType"] != "WorkspaceInitializationComplete" {
		t.Errorf("Expected WorkspaceInitializationComplete, got %v", data["messageType"])
	}

	// Initial DN state arrives after the bring-up delay.
	topic, data = read()
	if topic != broker.TopicVoice {
		t.Errorf("Expected initial state on %s, got %s", broker.TopicVoice, topic)
	}
	if data["messageType"] != "DnStateChanged" {
		t.Errorf("Expected DnStateChanged, got %v", data["messageType"])
	}

	topic, data = read()
	if topic != broker.TopicMedia {
		t.Errorf("Expected media state on %s, got %s", broker.TopicMedia, topic)
	}
	if data["messageType"] != "ChannelStateChanged" {
		t.Errorf("Expected ChannelStateChanged, got %v", data["messageType"])
	}
}
