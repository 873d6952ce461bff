package testsupport

import (
	"context"
	"testing"

	"packetwatch/internal/config"
	"packetwatch/internal/packet"
)

// MustOpenStore opens a packet.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *packet.Store {
	t.Helper()

	store, err := packet.Open(cfg)
	if err != nil {
		t.Fatalf("packet.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewPacket ingests a packet for tests using the provided store.
func NewPacket(t testing.TB, store *packet.Store, id string, channel packet.Channel) *packet.Packet {
	t.Helper()

	p, err := store.NewPacket(context.Background(), id, channel, packet.Payload{})
	if err != nil {
		t.Fatalf("store.NewPacket: %v", err)
	}
	return p
}
