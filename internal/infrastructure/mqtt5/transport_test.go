package mqtt5

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nerrad567/chatlink/internal/broker"
)

func testOpenOptions() broker.OpenOptions {
	return broker.OpenOptions{
		ClientID:     "chatlink-test",
		Host:         "127.0.0.1",
		Port:         1883,
		KeepAlive:    60 * time.Second,
		CleanSession: true,
	}
}

func TestServerURL(t *testing.T) {
	tests := []struct {
		name string
		tls  bool
		want string
	}{
		{name: "plain", want: "mqtt://127.0.0.1:1883"},
		{name: "tls", tls: true, want: "mqtts://127.0.0.1:1883"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOpenOptions()
			opts.TLS = tt.tls
			u, err := serverURL(opts)
			if err != nil {
				t.Fatalf("serverURL() error = %v", err)
			}
			if u.String() != tt.want {
				t.Errorf("serverURL() = %q, want %q", u.String(), tt.want)
			}
		})
	}
}

func TestBuildClientConfig(t *testing.T) {
	opts := testOpenOptions()
	opts.Username = "user"
	opts.Password = "secret"
	router := paho.NewStandardRouter()

	cc, err := buildClientConfig(opts, Config{SessionExpiry: 90 * time.Second}, router)
	if err != nil {
		t.Fatalf("buildClientConfig() error = %v", err)
	}

	if cc.KeepAlive != 60 {
		t.Errorf("KeepAlive = %d, want 60", cc.KeepAlive)
	}
	if !cc.CleanStartOnInitialConnection {
		t.Error("CleanStartOnInitialConnection = false, want true")
	}
	if cc.SessionExpiryInterval != 90 {
		t.Errorf("SessionExpiryInterval = %d, want 90", cc.SessionExpiryInterval)
	}
	if cc.ClientConfig.ClientID != "chatlink-test" {
		t.Errorf("ClientID = %q, want chatlink-test", cc.ClientConfig.ClientID)
	}
	if cc.ConnectUsername != "user" || string(cc.ConnectPassword) != "secret" {
		t.Errorf("credentials = %q/%q", cc.ConnectUsername, cc.ConnectPassword)
	}
	if cc.TlsCfg != nil {
		t.Error("TlsCfg set for plain connection")
	}
	if len(cc.ServerUrls) != 1 {
		t.Fatalf("ServerUrls = %v, want one URL", cc.ServerUrls)
	}
}

func TestBuildClientConfigTLS(t *testing.T) {
	opts := testOpenOptions()
	opts.TLS = true

	cc, err := buildClientConfig(opts, Config{}, paho.NewStandardRouter())
	if err != nil {
		t.Fatalf("buildClientConfig() error = %v", err)
	}
	if cc.TlsCfg == nil {
		t.Fatal("TlsCfg = nil, want TLS config")
	}
	if cc.ConnectUsername != "" {
		t.Errorf("ConnectUsername = %q, want empty", cc.ConnectUsername)
	}
}

func TestOperationsBeforeOpen(t *testing.T) {
	tr := New(Config{})

	err := tr.Subscribe(context.Background(), "chat/room", 0, func([]byte) {})
	if !errors.Is(err, broker.ErrNotOpen) {
		t.Errorf("Subscribe() error = %v, want ErrNotOpen", err)
	}
	err = tr.Publish(context.Background(), "chat/room", []byte("x"), 0)
	if !errors.Is(err, broker.ErrNotOpen) {
		t.Errorf("Publish() error = %v, want ErrNotOpen", err)
	}
	if err := tr.Close(context.Background()); err != nil {
		t.Errorf("Close() before Open error = %v", err)
	}
}

func TestValidation(t *testing.T) {
	tr := New(Config{})

	opts := testOpenOptions()
	opts.ClientID = ""
	if err := tr.Open(context.Background(), opts); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Open() empty client id error = %v, want ErrConnectionFailed", err)
	}
	if err := tr.Subscribe(context.Background(), "chat/+", 0, func([]byte) {}); !errors.Is(err, broker.ErrInvalidChannel) {
		t.Errorf("Subscribe() wildcard error = %v, want ErrInvalidChannel", err)
	}
	if err := tr.Publish(context.Background(), "chat/room", []byte("x"), 7); !errors.Is(err, broker.ErrInvalidQoS) {
		t.Errorf("Publish() qos 7 error = %v, want ErrInvalidQoS", err)
	}
}

func TestOpenHonoursContext(t *testing.T) {
	// Port 1 on localhost refuses connections; autopaho keeps retrying until
	// the caller's deadline or the connect error callback fires.
	opts := testOpenOptions()
	opts.Port = 1

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	tr := New(Config{})
	if err := tr.Open(ctx, opts); err == nil {
		t.Fatal("Open() expected error for refused connection")
	}
	if _, err := tr.active(); !errors.Is(err, broker.ErrNotOpen) {
		t.Errorf("active() after failed Open error = %v, want ErrNotOpen", err)
	}
}

func TestAdoptRejectsOvertakenOpen(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		between func(*Transport)
		wantErr error
	}{
		{name: "current", ctx: context.Background(), between: func(*Transport) {}},
		{name: "cancelled", ctx: cancelled, between: func(*Transport) {}, wantErr: context.Canceled},
		{
			name:    "closed meanwhile",
			ctx:     context.Background(),
			between: func(tr *Transport) { _ = tr.Close(context.Background()) },
			wantErr: broker.ErrOpenAborted,
		},
		{
			name:    "newer open",
			ctx:     context.Background(),
			between: func(tr *Transport) { tr.nextGen() },
			wantErr: broker.ErrOpenAborted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(Config{})
			gen := tr.nextGen()
			tt.between(tr)

			s := &session{router: paho.NewStandardRouter()}
			err := tr.adopt(tt.ctx, gen, s)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("adopt() error = %v, want %v", err, tt.wantErr)
			}
			got, _ := tr.active() //nolint:errcheck // nil session checked below
			if tt.wantErr == nil && got != s {
				t.Error("adopt() did not install the session")
			}
			if tt.wantErr != nil && got != nil {
				t.Error("rejected session was installed")
			}
		})
	}
}
