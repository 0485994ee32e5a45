package sender

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/resend/resend-go/v2"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"gopkg.in/gomail.v2"

	"prayerflow/internal/entity"
	"prayerflow/pkg/nolog"
)

func outbound(ch entity.Channel, to string) entity.OutboundMessage {
	return entity.OutboundMessage{
		ID:      uuid.New(),
		Channel: ch,
		To:      to,
		Subject: "Tu petición de oración",
		Content: "Estamos orando por ti",
	}
}

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func TestEmailSender_Send(t *testing.T) {
	dialer := &fakeDialer{}
	s := &EmailSender{dialer: dialer, from: "iglesia@example.com", log: nolog.New()}
	msg := outbound(entity.ChannelEmail, "ana@example.com")

	res, err := s.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ProviderMessageID != msg.ID.String() {
		t.Errorf("provider id = %q", res.ProviderMessageID)
	}
	if len(dialer.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(dialer.sent))
	}
	got := dialer.sent[0]
	if to := got.GetHeader("To"); len(to) != 1 || to[0] != "ana@example.com" {
		t.Errorf("To = %v", to)
	}
	if subj := got.GetHeader("Subject"); len(subj) != 1 || subj[0] != msg.Subject {
		t.Errorf("Subject = %v", subj)
	}

	dialer.err = errors.New("535 authentication failed")
	if _, err = s.Send(context.Background(), msg); err == nil {
		t.Error("expected smtp error")
	}
}

func TestNewEmailSender_RequiresHost(t *testing.T) {
	if _, err := NewEmailSender(SMTPConfig{From: "a@b.c"}, nolog.New()); err == nil {
		t.Error("expected an error without host")
	}
}

type fakeResend struct {
	got *resend.SendEmailRequest
}

func (f *fakeResend) SendWithContext(_ context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	f.got = params
	return &resend.SendEmailResponse{Id: "re_123"}, nil
}

func TestResendSender_Send(t *testing.T) {
	api := &fakeResend{}
	s := &ResendSender{emails: api, from: "iglesia@example.com", log: nolog.New()}

	res, err := s.Send(context.Background(), outbound(entity.ChannelEmail, "ana@example.com"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ProviderMessageID != "re_123" {
		t.Errorf("provider id = %q", res.ProviderMessageID)
	}
	if len(api.got.To) != 1 || api.got.To[0] != "ana@example.com" || api.got.From != "iglesia@example.com" {
		t.Errorf("request = %+v", api.got)
	}
}

type fakeTwilio struct {
	got *twilioApi.CreateMessageParams
	err error
}

func (f *fakeTwilio) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.got = params
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestTwilioSender_Send(t *testing.T) {
	tests := []struct {
		name         string
		channel      entity.Channel
		to           string
		whatsappFrom string
		wantTo       string
		wantFrom     string
		wantErr      bool
	}{
		{"sms", entity.ChannelSMS, "+56911111111", "", "+56911111111", "+15550000", false},
		{"whatsapp", entity.ChannelWhatsApp, "+56911111111", "+15551111", "whatsapp:+56911111111", "whatsapp:+15551111", false},
		{"whatsapp already prefixed", entity.ChannelWhatsApp, "whatsapp:+569", "whatsapp:+15551111", "whatsapp:+569", "whatsapp:+15551111", false},
		{"whatsapp without sender", entity.ChannelWhatsApp, "+569", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeTwilio{}
			s := &TwilioSender{api: api, from: "+15550000", whatsappFrom: tt.whatsappFrom, log: nolog.New()}

			res, err := s.Send(context.Background(), outbound(tt.channel, tt.to))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Send: %v", err)
			}
			if res.ProviderMessageID != "SM123" {
				t.Errorf("sid = %q", res.ProviderMessageID)
			}
			if *api.got.To != tt.wantTo || *api.got.From != tt.wantFrom {
				t.Errorf("to/from = %s/%s, want %s/%s", *api.got.To, *api.got.From, tt.wantTo, tt.wantFrom)
			}
		})
	}
}

func TestWuzapiSender_Send(t *testing.T) {
	var got wuzapiText
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != _wuzapiSendText || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"success":true,"data":{"Details":"Sent","Id":"3EB0"}}`))
	}))
	defer srv.Close()

	s, err := NewWuzapiSender(srv.URL+"/", "secret", time.Second, nolog.New())
	if err != nil {
		t.Fatalf("NewWuzapiSender: %v", err)
	}

	res, err := s.Send(context.Background(), outbound(entity.ChannelWhatsApp, "+56911111111"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ProviderMessageID != "3EB0" {
		t.Errorf("provider id = %q", res.ProviderMessageID)
	}
	if got.Phone != "56911111111" || got.Body != "Estamos orando por ti" {
		t.Errorf("payload = %+v", got)
	}

	bad, err := NewWuzapiSender(srv.URL, "wrong", time.Second, nolog.New())
	if err != nil {
		t.Fatalf("NewWuzapiSender: %v", err)
	}
	if _, err = bad.Send(context.Background(), outbound(entity.ChannelWhatsApp, "+569")); err == nil {
		t.Error("expected an error for a rejected token")
	}
}

type stubSender struct{ calls int }

func (s *stubSender) Send(context.Context, entity.OutboundMessage) (entity.SendResult, error) {
	s.calls++
	return entity.SendResult{ProviderMessageID: "ok"}, nil
}

func TestRouter(t *testing.T) {
	sms, mail := &stubSender{}, &stubSender{}
	r := NewRouter().
		Register(entity.ChannelSMS, sms).
		Register(entity.ChannelEmail, mail).
		Register(entity.ChannelWhatsApp, nil)

	if got := r.Channels(); len(got) != 2 {
		t.Errorf("channels = %v, want email and sms", got)
	}
	if _, err := r.Send(context.Background(), outbound(entity.ChannelSMS, "+569")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sms.calls != 1 || mail.calls != 0 {
		t.Errorf("routing wrong: sms=%d email=%d", sms.calls, mail.calls)
	}
	if _, err := r.Send(context.Background(), outbound(entity.ChannelWhatsApp, "+569")); err == nil {
		t.Error("expected an error for an unconfigured channel")
	}
}
