package runtime

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/devicerelay/internal/runtime/config"
	idspkg "github.com/drblury/devicerelay/internal/runtime/ids"
	loggingpkg "github.com/drblury/devicerelay/internal/runtime/logging"
	metadatapkg "github.com/drblury/devicerelay/internal/runtime/metadata"
	relaypkg "github.com/drblury/devicerelay/internal/runtime/relay"
)

func passthrough(m *message.Message) ([]*message.Message, error) { return nil, nil }

func newTestRouter(t *testing.T) *message.Router {
	t.Helper()
	router, err := message.NewRouter(message.RouterConfig{}, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("router init failed: %v", err)
	}
	return router
}

func TestCorrelationIDMiddleware(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	mw := svc.correlationIDMiddleware()

	t.Run("adds missing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.CreateULID(), nil)
		called := false
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			called = true
			if m.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
				t.Fatal("expected correlation id to be populated")
			}
			return nil, nil
		})(msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !called {
			t.Fatal("handler not invoked")
		}
	})

	t.Run("keeps existing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.CreateULID(), nil)
		msg.Metadata.Set(metadatapkg.KeyCorrelationID, "fixed")
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			if m.Metadata.Get(metadatapkg.KeyCorrelationID) != "fixed" {
				t.Fatal("expected correlation id to be preserved")
			}
			return nil, nil
		})(msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestNonFatalMiddleware(t *testing.T) {
	var buf bytes.Buffer
	svc := &Service{Logger: loggingpkg.NewSlogServiceLogger(loggingpkg.NewSlogLogger(&buf, "debug", "text"))}
	mw := svc.nonFatalMiddleware()

	msg := message.NewMessage(idspkg.CreateULID(), nil)
	msg.Metadata.Set(metadatapkg.KeyEvent, relaypkg.EventShareVoice)
	msg.Metadata.Set(metadatapkg.KeySessionID, "s1")

	_, err := mw(func(*message.Message) ([]*message.Message, error) {
		return nil, errors.New("dispatch failed")
	})(msg)
	if err != nil {
		t.Fatalf("expected error to be swallowed, got %v", err)
	}
	out := buf.String()
	if !bytes.Contains([]byte(out), []byte("Dropping event after dispatch error")) {
		t.Fatalf("expected drop to be logged, got %q", out)
	}
	if !bytes.Contains([]byte(out), []byte("share-voice")) {
		t.Fatalf("expected event name in log, got %q", out)
	}

	if _, err := mw(passthrough)(msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNonFatalMiddlewareRequiresLogger(t *testing.T) {
	if _, err := NonFatalMiddleware().Builder(&Service{}); err == nil {
		t.Fatal("expected error when logger missing")
	}
}

func TestLogMessagesMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := loggingpkg.NewSlogServiceLogger(loggingpkg.NewSlogLogger(&buf, "debug", "text"))
	svc := &Service{}

	mw := svc.logMessagesMiddleware(logger)
	msg := message.NewMessage("uuid-1", []byte(`{"lat":1}`))
	if _, err := mw(passthrough)(msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("Processing message")) {
		t.Fatalf("expected message to be logged, got %q", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("uuid-1")) {
		t.Fatalf("expected uuid in log, got %q", buf.String())
	}
}

func TestLogMessagesMiddlewareValidations(t *testing.T) {
	svc := &Service{}
	if _, err := LogMessagesMiddleware(nil).Builder(svc); err == nil {
		t.Fatal("expected error when logger missing")
	}

	mw, err := LogMessagesMiddleware(loggingpkg.Nop()).Builder(svc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mw == nil {
		t.Fatal("expected middleware when an explicit logger is given")
	}
}

func TestTracerMiddleware(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	mw := svc.tracerMiddleware()

	t.Run("attaches span", func(t *testing.T) {
		msg := message.NewMessage(idspkg.CreateULID(), nil)
		msg.Metadata.Set(metadatapkg.KeyEvent, relaypkg.EventShareScreen)
		msg.SetContext(context.Background())

		var observed trace.Span
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			observed = trace.SpanFromContext(m.Context())
			return nil, nil
		})(msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if observed == nil {
			t.Fatal("expected span to be attached to context")
		}
	})

	t.Run("propagates handler error", func(t *testing.T) {
		msg := message.NewMessage(idspkg.CreateULID(), nil)
		want := errors.New("boom")
		_, err := mw(func(*message.Message) ([]*message.Message, error) { return nil, want })(msg)
		if !errors.Is(err, want) {
			t.Fatalf("expected %v, got %v", want, err)
		}
	})
}

func TestRecovererMiddleware(t *testing.T) {
	reg := RecovererMiddleware()
	if reg.Middleware == nil {
		t.Fatal("expected a static middleware")
	}
	_, err := reg.Middleware(func(*message.Message) ([]*message.Message, error) {
		panic("dispatch blew up")
	})(message.NewMessage(idspkg.CreateULID(), nil))

	var recovered middleware.RecoveredPanicError
	if !errors.As(err, &recovered) {
		t.Fatalf("expected recovered panic, got %v", err)
	}
	if defaultErrorClassifier(err) != ErrorCategoryPanic {
		t.Fatalf("expected panic category, got %s", defaultErrorClassifier(err))
	}
}

func TestRegisterMiddlewareValidations(t *testing.T) {
	t.Parallel()

	t.Run("requires router", testRegisterMiddlewareRequiresRouter)
	t.Run("requires configuration", testRegisterMiddlewareRequiresConfiguration)
	t.Run("invokes builder", testRegisterMiddlewareInvokesBuilder)
	t.Run("handles builder error", testRegisterMiddlewareHandlesBuilderError)
	t.Run("handles nil middleware from builder", testRegisterMiddlewareHandlesNilMiddlewareFromBuilder)
}

func testRegisterMiddlewareRequiresRouter(t *testing.T) {
	svc := &Service{}
	err := svc.RegisterMiddleware(MiddlewareRegistration{
		Middleware: func(h message.HandlerFunc) message.HandlerFunc { return h },
	})
	if !errors.Is(err, errRouterNotInitialised) {
		t.Fatalf("expected router error, got %v", err)
	}
}

func testRegisterMiddlewareRequiresConfiguration(t *testing.T) {
	svc := &Service{router: newTestRouter(t)}
	if err := svc.RegisterMiddleware(MiddlewareRegistration{}); err == nil {
		t.Fatal("expected error when registration empty")
	}
}

func testRegisterMiddlewareInvokesBuilder(t *testing.T) {
	svc := &Service{router: newTestRouter(t)}
	built := false
	err := svc.RegisterMiddleware(MiddlewareRegistration{
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			built = true
			return func(h message.HandlerFunc) message.HandlerFunc { return h }, nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !built {
		t.Fatal("expected builder to be invoked")
	}
}

func testRegisterMiddlewareHandlesBuilderError(t *testing.T) {
	svc := &Service{router: newTestRouter(t)}
	err := svc.RegisterMiddleware(MiddlewareRegistration{
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return nil, errors.New("builder failed")
		},
	})
	if err == nil {
		t.Fatal("expected builder error to propagate")
	}
}

func testRegisterMiddlewareHandlesNilMiddlewareFromBuilder(t *testing.T) {
	svc := &Service{router: newTestRouter(t)}
	err := svc.RegisterMiddleware(MiddlewareRegistration{
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMetricsMiddleware_Enabled(t *testing.T) {
	t.Parallel()

	svc := &Service{
		Conf:         &configpkg.Config{MetricsEnabled: true},
		Logger:       loggingpkg.Nop(),
		router:       newTestRouter(t),
		promRegistry: prometheus.NewRegistry(),
	}

	mw, err := MetricsMiddleware().Builder(svc)
	if err != nil {
		t.Fatalf("unexpected error building metrics middleware: %v", err)
	}
	if mw != nil {
		t.Fatal("router metrics are attached to the router directly")
	}
}

func TestMetricsMiddleware_Disabled(t *testing.T) {
	t.Parallel()

	svc := &Service{Conf: &configpkg.Config{MetricsEnabled: false}}
	mw, err := MetricsMiddleware().Builder(svc)
	if err != nil {
		t.Fatal(err)
	}
	if mw != nil {
		t.Fatal("expected nil middleware when disabled")
	}
}

func TestDefaultMiddlewaresOrder(t *testing.T) {
	var names []string
	for _, reg := range DefaultMiddlewares() {
		names = append(names, reg.Name)
	}
	want := []string{"non_fatal", "correlation_id", "log_messages", "tracer", "metrics", "recoverer"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}
