package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBusDeliversToMatchingSubscribers(t *testing.T) {
	bus := NewBus(8, nil)

	var mu sync.Mutex
	var images, all []Name
	bus.Subscribe(func(e Event) {
		mu.Lock()
		images = append(images, e.Name)
		mu.Unlock()
	}, ImageGenerated)
	bus.Subscribe(func(e Event) {
		mu.Lock()
		all = append(all, e.Name)
		mu.Unlock()
	})

	bus.Publish(ImageGenerated, Payload{RunID: "r1", Data: map[string]any{"id": "img-1"}})
	bus.Publish(FileGenerated, Payload{RunID: "r1"})
	bus.Close()

	assert.Equal(t, []Name{ImageGenerated}, images)
	assert.Equal(t, []Name{ImageGenerated, FileGenerated}, all)
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(1, nil)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.Subscribe(func(Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	bus.Publish(ThinkingUpdate, Payload{})
	<-started // handler is now blocked on the first event

	done := make(chan struct{})
	go func() {
		bus.Publish(ThinkingUpdate, Payload{}) // fills the buffer
		bus.Publish(ThinkingUpdate, Payload{}) // dropped
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked")
	}
	assert.Equal(t, int64(1), bus.Dropped())

	close(release)
	bus.Close()
}

func TestBusPublishAfterCloseIsIgnored(t *testing.T) {
	bus := NewBus(1, nil)
	bus.Close()
	bus.Publish(ReportReady, Payload{})
	bus.Close()
}

func TestBusRecoversHandlerPanic(t *testing.T) {
	bus := NewBus(4, nil)
	delivered := make(chan struct{}, 1)
	bus.Subscribe(func(e Event) {
		if e.Name == ToolExecuted {
			panic("boom")
		}
		delivered <- struct{}{}
	})

	bus.Publish(ToolExecuted, Payload{})
	bus.Publish(ReportReady, Payload{})
	bus.Close()

	require.Len(t, delivered, 1)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(4, nil)
	defer bus.Close()
	id := bus.Subscribe(func(Event) {})
	assert.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id))
}

func TestLogPublisherAndFanout(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	var got []Name
	rec := recorder(func(n Name) { got = append(got, n) })

	pub := Fanout{NewLogPublisher(zap.New(core)), rec, nil}
	pub.Publish(FileGenerated, Payload{RunID: "r1", Data: map[string]any{"file": "report.pdf"}})

	assert.Equal(t, []Name{FileGenerated}, got)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "event", logs.All()[0].Message)

	Nop{}.Publish(FileGenerated, Payload{})
}

type recorder func(Name)

func (r recorder) Publish(n Name, _ Payload) { r(n) }
