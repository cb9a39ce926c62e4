package emailsvc

import (
	"net/mail"
	"sync"
	"testing"
	texttmpl "text/template"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-lifecycle/core"
)

var testConf = &core.Config{AppName: "Masomo", FromEmail: "Masomo <noreply@masomo.test>"}

func TestConsoleServiceMock_SendMessages(t *testing.T) {
	tmpl := texttmpl.Must(texttmpl.New("greeting").Parse("Hello {{.}}"))
	to := []mail.Address{{Name: "Reviewer", Address: "reviewer@masomo.test"}}

	tests := []struct {
		name     string
		msg      *core.EmailMessage
		wantSent bool
		wantText string
	}{
		{name: "plain body", msg: &core.EmailMessage{To: to, Subject: "hi", BodyStr: "plain"}, wantSent: true, wantText: "plain"},
		{name: "template", msg: &core.EmailMessage{To: to, Template: tmpl, TemplateData: "Amani"}, wantSent: true, wantText: "Hello Amani"},
		{name: "no recipients", msg: &core.EmailMessage{BodyStr: "plain"}},
		{name: "no content", msg: &core.EmailMessage{To: to}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewConsoleServiceMock(testConf)
			svc.SendMessages(tt.msg)

			sent := svc.SentMessages()
			if !tt.wantSent {
				assert.Empty(t, sent)
				return
			}
			require.Len(t, sent, 1)
			assert.Equal(t, tt.wantText, sent[0].TextContent)
		})
	}
}

// gaugeWriter records how many writes run at the same time.
type gaugeWriter struct {
	mu     sync.Mutex
	active int
	peak   int
	writes int
}

func (w *gaugeWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.active++
	w.writes++
	if w.active > w.peak {
		w.peak = w.active
	}
	w.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	w.mu.Lock()
	w.active--
	w.mu.Unlock()
	return len(p), nil
}

func TestConsoleService_SendMessages_bounded(t *testing.T) {
	out := new(gaugeWriter)
	svc := consoleService{
		from:   testConf.DefaultFromEmail(),
		out:    out,
		logger: core.NopLogger,
		pool:   newSendPool(2),
	}
	to := []mail.Address{{Address: "reviewer@masomo.test"}}

	msgs := make([]*core.EmailMessage, 20)
	for i := range msgs {
		msgs[i] = &core.EmailMessage{To: to, Subject: "Overdue approval", BodyStr: "body"}
	}
	svc.SendMessages(msgs...)
	svc.Wait()

	assert.Equal(t, 20, out.writes)
	assert.LessOrEqual(t, out.peak, 2)
	assert.Empty(t, svc.pool.sem)
}

func TestSendgridService_prepare(t *testing.T) {
	svc := NewSendgridService(testConf, core.NopLogger).(*sendgridService)
	m := svc.prepare(core.EmailMessage{
		To:          []mail.Address{{Address: "a@masomo.test"}},
		Cc:          []mail.Address{{Address: "b@masomo.test"}},
		Subject:     "Overdue approval",
		TextContent: "body",
	})

	assert.Equal(t, "noreply@masomo.test", m.From.Address)
	assert.Equal(t, "Masomo", m.From.Name)
	require.Len(t, m.Personalizations, 1)
	assert.Equal(t, "[Masomo] Overdue approval", m.Personalizations[0].Subject)
	assert.Len(t, m.Personalizations[0].To, 1)
	assert.Len(t, m.Personalizations[0].CC, 1)
	require.Len(t, m.Content, 1)
	assert.Equal(t, "body", m.Content[0].Value)
}
