package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	a, cancelA := b.Subscribe("p1")
	c, cancelC := b.Subscribe("p1")
	other, cancelOther := b.Subscribe("p2")
	defer cancelOther()
	assert.Equal(t, 2, b.Subscribers("p1"))

	b.Publish("p1", ProgressEvent{Kind: EventGameUnlocked, GameID: "g12"})
	assert.Equal(t, "g12", (<-a).GameID)
	assert.Equal(t, "g12", (<-c).GameID)
	assert.Empty(t, other)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, b.Subscribers("p1"))

	cancelC()
	assert.Zero(t, b.Subscribers("p1"))
	b.Publish("p1", ProgressEvent{Kind: EventProgressReset})
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("p1")
	defer cancel()

	for i := 0; i < 40; i++ {
		b.Publish("p1", ProgressEvent{Kind: EventProgressChanged})
	}
	assert.Len(t, ch, 16)
}
