package conversation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"muni-chatbot-be/internal/pkg/logger"
	"muni-chatbot-be/pkg/agent"
	"muni-chatbot-be/pkg/matcher"
	"muni-chatbot-be/pkg/navigator"
	"muni-chatbot-be/pkg/tree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(string, string, map[string]interface{}) {}
func (nopLogger) Info(string, string, map[string]interface{})  {}
func (nopLogger) Warn(string, string, map[string]interface{})  {}
func (nopLogger) Error(string, string, map[string]interface{}) {}
func (nopLogger) Sync() error                                  { return nil }
func (nopLogger) GetLogs(string, int, int) ([]logger.LogEntry, error) {
	return nil, nil
}
func (nopLogger) GetLogById(string) (*logger.LogEntry, error) { return nil, nil }

type fakeEmitter struct {
	mu sync.Mutex

	messages      []string
	options       [][]navigator.Option
	cleared       int
	sessionIds    []string
	fileTransfers []bool
	registrations int
}

func (f *fakeEmitter) Message(role, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
}

func (f *fakeEmitter) Options(options []navigator.Option) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.options = append(f.options, options)
}

func (f *fakeEmitter) ClearOptions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
}

func (f *fakeEmitter) SessionId(sessionId string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionIds = append(f.sessionIds, sessionId)
}

func (f *fakeEmitter) FileTransfer(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fileTransfers = append(f.fileTransfers, enabled)
}

func (f *fakeEmitter) RequestRegistration() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations++
}

func (f *fakeEmitter) transcript() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.messages, "\n")
}

func (f *fakeEmitter) lastOptionIds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.options) == 0 {
		return nil
	}
	ids := []string{}
	for _, opt := range f.options[len(f.options)-1] {
		ids = append(ids, opt.Id)
	}
	return ids
}

type fakeLink struct {
	mu sync.Mutex

	connectErr  error
	status      agent.Status
	identity    agent.Identity
	sent        []string
	uploads     []string
	uploadErr   error
	disconnects int
	connects    int
}

func (f *fakeLink) SetIdentity(identity agent.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity = identity
}

func (f *fakeLink) Connect(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return false, f.connectErr
	}
	f.status = agent.StatusConnected
	return true, nil
}

func (f *fakeLink) SendMessage(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != agent.StatusConnected {
		return agent.ErrNotConnected
	}
	if f.identity.SessionId == "" {
		return agent.ErrNoSession
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeLink) UploadFile(fileName string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads = append(f.uploads, fileName)
	return nil
}

func (f *fakeLink) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.status = agent.StatusDisconnected
	f.identity.SessionId = ""
}

func (f *fakeLink) SessionId() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identity.SessionId
}

func (f *fakeLink) Status() agent.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeLink) FileTransferEnabled() bool { return false }

func (f *fakeLink) assignSession(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity.SessionId = id
}

const testSessionId = "a1b2c3d4-1111-4222-8333-abcdefabcdef"

func newController(t *testing.T, link *fakeLink) (*Controller, *fakeEmitter) {
	t.Helper()
	idx, err := tree.Load()
	require.NoError(t, err)
	em := &fakeEmitter{}
	c := NewController(idx, matcher.New(idx), link, em, nopLogger{}, Config{
		FinalizeDelay: time.Millisecond,
	})
	return c, em
}

func TestStartsInMenuMode(t *testing.T) {
	c, em := newController(t, &fakeLink{})
	c.Start()

	assert.Equal(t, ModeMenu, c.Mode())
	assert.NotEmpty(t, em.lastOptionIds())
}

func TestEscalationWithoutIdentityOffersChoices(t *testing.T) {
	link := &fakeLink{}
	c, em := newController(t, link)
	c.Start()

	c.HandleOption(context.Background(), navigator.OptNavAgent)

	assert.Equal(t, ModeMenu, c.Mode())
	assert.Equal(t, []string{OptCompleteData, OptUseAnonymous, OptCancel}, em.lastOptionIds())
	assert.Equal(t, 0, link.connects)
}

func TestEscalationAsAnonymousConnects(t *testing.T) {
	link := &fakeLink{}
	c, _ := newController(t, link)
	c.Start()

	c.HandleOption(context.Background(), navigator.OptNavAgent)
	c.HandleOption(context.Background(), OptUseAnonymous)

	assert.Equal(t, ModeAgent, c.Mode())
	assert.Equal(t, 1, link.connects)
	assert.Equal(t, agent.AnonymousName, link.identity.DisplayName)
	assert.Equal(t, agent.AnonymousEmail, link.identity.Email)
}

func TestEscalationWithIdentityConnects(t *testing.T) {
	link := &fakeLink{}
	c, em := newController(t, link)
	c.SetIdentity("María Soto", "maria@example.cl")
	c.Start()

	c.HandleOption(context.Background(), navigator.OptNavAgent)

	assert.Equal(t, ModeAgent, c.Mode())
	assert.Equal(t, "María Soto", link.identity.DisplayName)
	assert.Contains(t, em.transcript(), "Conectando como: María Soto")
}

func TestEscalationReusesStoredSessionId(t *testing.T) {
	link := &fakeLink{}
	c, _ := newController(t, link)
	c.SetIdentity("María Soto", "maria@example.cl")
	c.SetSessionId(testSessionId)
	c.Start()

	c.HandleOption(context.Background(), navigator.OptNavAgent)

	assert.Equal(t, testSessionId, link.identity.SessionId)
}

func TestMalformedStoredSessionIdIsIgnored(t *testing.T) {
	c, _ := newController(t, &fakeLink{})
	c.SetSessionId("not-a-valid-id")
	assert.Empty(t, c.SessionId())
}

func TestConnectFailureRevertsToMenuWithRetryOptions(t *testing.T) {
	link := &fakeLink{connectErr: &agent.ConnectError{Kind: agent.ErrKindTimeout, Err: assert.AnError}}
	c, em := newController(t, link)
	c.SetIdentity("María Soto", "maria@example.cl")
	c.Start()

	c.HandleOption(context.Background(), navigator.OptNavAgent)

	assert.Equal(t, ModeMenu, c.Mode())
	assert.Contains(t, em.transcript(), "Tiempo de conexión agotado")
	assert.Equal(t, []string{OptRetryConnect, navigator.OptNavMenu}, em.lastOptionIds())
}

func TestAgentModeRoutesTextToLink(t *testing.T) {
	link := &fakeLink{}
	c, _ := newController(t, link)
	c.SetIdentity("María Soto", "maria@example.cl")
	c.Start()
	c.HandleOption(context.Background(), navigator.OptNavAgent)
	link.assignSession(testSessionId)

	c.HandleText(context.Background(), "necesito ayuda con mi patente")

	require.Len(t, link.sent, 1)
	assert.Equal(t, "necesito ayuda con mi patente", link.sent[0])
}

func TestAgentModeEmergencyCommandShowsOptionsNotSent(t *testing.T) {
	link := &fakeLink{}
	c, em := newController(t, link)
	c.SetIdentity("María Soto", "maria@example.cl")
	c.Start()
	c.HandleOption(context.Background(), navigator.OptNavAgent)
	link.assignSession(testSessionId)

	c.HandleText(context.Background(), "/opciones")

	assert.Empty(t, link.sent)
	assert.Equal(t, []string{OptContinueNormal, OptShowSessionId, OptForceDisconnect}, em.lastOptionIds())
}

func TestSessionAssignedPresentsWaitOptions(t *testing.T) {
	link := &fakeLink{}
	c, em := newController(t, link)
	persisted := ""
	c.persistSessionId = func(id string) { persisted = id }
	c.SetIdentity("María Soto", "maria@example.cl")
	c.Start()
	c.HandleOption(context.Background(), navigator.OptNavAgent)

	c.OnSessionAssigned(testSessionId, "Comparte este ID con el agente")

	assert.Equal(t, testSessionId, c.SessionId())
	assert.Equal(t, testSessionId, persisted)
	assert.Equal(t, []string{testSessionId}, em.sessionIds)
	assert.Equal(t, []string{OptWaitForAgent, OptCopySessionId, OptCancelAgent}, em.lastOptionIds())
}

func TestFinalizeReturnsToMenu(t *testing.T) {
	link := &fakeLink{}
	c, em := newController(t, link)
	c.SetIdentity("María Soto", "maria@example.cl")
	c.Start()
	c.HandleOption(context.Background(), navigator.OptNavAgent)

	c.Finalize()

	assert.Equal(t, ModeMenu, c.Mode())
	assert.Equal(t, 1, link.disconnects)
	assert.Contains(t, em.transcript(), "Desconectado del agente humano")
	assert.Contains(t, em.lastOptionIds(), navigator.OptNavMenu)
	assert.Equal(t, []bool{false}, em.fileTransfers)
}

func TestAgentFinalizationWordingTriggersTeardown(t *testing.T) {
	link := &fakeLink{}
	c, _ := newController(t, link)
	c.SetIdentity("María Soto", "maria@example.cl")
	c.Start()
	c.HandleOption(context.Background(), navigator.OptNavAgent)

	c.OnMessage(agent.MessagePayload{
		Type:    agent.MessageTypeAgent,
		Message: "Vamos a finalizar la conversación, gracias por escribir",
		Agent:   &agent.AgentInfo{Name: "Carla"},
	})

	assert.Eventually(t, func() bool {
		return c.Mode() == ModeMenu && link.disconnects == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSystemDisconnectWordingTriggersTeardown(t *testing.T) {
	link := &fakeLink{}
	c, _ := newController(t, link)
	c.SetIdentity("María Soto", "maria@example.cl")
	c.Start()
	c.HandleOption(context.Background(), navigator.OptNavAgent)

	c.OnMessage(agent.MessagePayload{
		Type:    agent.MessageTypeSystem,
		Message: "Se cerró la sesión por inactividad",
	})

	assert.Eventually(t, func() bool {
		return c.Mode() == ModeMenu
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOrdinaryAgentMessageDoesNotFinalize(t *testing.T) {
	link := &fakeLink{}
	c, _ := newController(t, link)
	c.SetIdentity("María Soto", "maria@example.cl")
	c.Start()
	c.HandleOption(context.Background(), navigator.OptNavAgent)

	c.OnMessage(agent.MessagePayload{
		Type:    agent.MessageTypeAgent,
		Message: "Claro, reviso tu caso de inmediato",
		Agent:   &agent.AgentInfo{Name: "Carla"},
	})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, ModeAgent, c.Mode())
	assert.Equal(t, 0, link.disconnects)
}

func TestConnectionLostOnlyReconnectsInAgentMode(t *testing.T) {
	link := &fakeLink{}
	c, _ := newController(t, link)
	c.Start()

	assert.False(t, c.OnConnectionLost())

	c.SetIdentity("María Soto", "maria@example.cl")
	c.HandleOption(context.Background(), navigator.OptNavAgent)
	assert.True(t, c.OnConnectionLost())
}

func TestReconnectExhaustionFinalizes(t *testing.T) {
	link := &fakeLink{}
	c, em := newController(t, link)
	c.SetIdentity("María Soto", "maria@example.cl")
	c.Start()
	c.HandleOption(context.Background(), navigator.OptNavAgent)

	c.OnReconnectExhausted()

	assert.Equal(t, ModeMenu, c.Mode())
	assert.Contains(t, em.transcript(), "No fue posible restablecer la conexión")
}

func TestFileUploadOnlyInAgentMode(t *testing.T) {
	link := &fakeLink{}
	c, em := newController(t, link)
	c.Start()

	c.UploadFile("doc.pdf", []byte("x"))
	assert.Empty(t, link.uploads)
	assert.Contains(t, em.transcript(), "Solo puedes enviar archivos cuando hablas con un agente")

	c.SetIdentity("María Soto", "maria@example.cl")
	c.HandleOption(context.Background(), navigator.OptNavAgent)
	c.UploadFile("doc.pdf", []byte("x"))
	assert.Equal(t, []string{"doc.pdf"}, link.uploads)
}

func TestFileUploadRejectionsAreTranslated(t *testing.T) {
	link := &fakeLink{uploadErr: agent.ErrFileTypeNotAllowed}
	c, em := newController(t, link)
	c.SetIdentity("María Soto", "maria@example.cl")
	c.Start()
	c.HandleOption(context.Background(), navigator.OptNavAgent)

	c.UploadFile("foto.png", []byte("x"))

	assert.Contains(t, em.transcript(), "Solo se permiten archivos PDF, DOC y DOCX")
}

func TestFileTransferToggleFollowsExplicitEvents(t *testing.T) {
	link := &fakeLink{}
	c, em := newController(t, link)
	c.Start()

	c.OnFileTransfer(true, "activado", true)
	c.OnFileTransfer(false, "desactivado", false)

	assert.Equal(t, []bool{true, false}, em.fileTransfers)
	assert.Contains(t, em.transcript(), "Ahora puedes enviar archivos al agente")
	assert.Contains(t, em.transcript(), "desactivado")
}

func TestSoftRestartKeepsIdentity(t *testing.T) {
	link := &fakeLink{}
	c, _ := newController(t, link)
	c.SetIdentity("María Soto", "maria@example.cl")
	c.SetSessionId(testSessionId)
	c.Start()

	c.HandleOption(context.Background(), navigator.OptRestartSoft)

	assert.Empty(t, c.SessionId())
	c.HandleOption(context.Background(), navigator.OptNavAgent)
	// Identity survived, so escalation proceeds without the data prompt.
	assert.Equal(t, ModeAgent, c.Mode())
}

func TestFullRestartClearsIdentity(t *testing.T) {
	link := &fakeLink{}
	c, em := newController(t, link)
	c.SetIdentity("María Soto", "maria@example.cl")
	c.Start()

	c.HandleOption(context.Background(), navigator.OptRestartFull)
	c.HandleOption(context.Background(), navigator.OptNavAgent)

	assert.Equal(t, ModeMenu, c.Mode())
	assert.Equal(t, []string{OptCompleteData, OptUseAnonymous, OptCancel}, em.lastOptionIds())
}

func TestHistoryRecordsBothSides(t *testing.T) {
	c, _ := newController(t, &fakeLink{})
	c.Start()
	c.HandleText(context.Background(), "1")

	history := c.History()
	require.NotEmpty(t, history)
	assert.Equal(t, "user", historyRoleFor(history, "1"))
}

func historyRoleFor(history []HistoryEntry, text string) string {
	for _, h := range history {
		if h.Text == text {
			return h.Role
		}
	}
	return ""
}
