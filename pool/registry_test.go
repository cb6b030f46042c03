package pool

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/sagernet/sing-shadowpool/config"
)

type fakeHandle struct {
	serverID ServerID
	access   sync.Mutex
	closed   int
}

func (h *fakeHandle) ServerID() ServerID {
	return h.serverID
}

func (h *fakeHandle) Addr() net.Addr {
	return nil
}

func (h *fakeHandle) Close() error {
	h.access.Lock()
	defer h.access.Unlock()
	h.closed++
	return nil
}

func (h *fakeHandle) Closed() int {
	h.access.Lock()
	defer h.access.Unlock()
	return h.closed
}

func TestNewServerID(t *testing.T) {
	if id := NewServerID("tcp", "0.0.0.0:8388"); id != "tcp://0.0.0.0:8388" {
		t.Fatalf("got %s", id)
	}
}

func TestRegistryRegister(t *testing.T) {
	registry := NewRegistry()
	alice := config.User{ID: "alice", Password: "secret", Port: 8388}

	if registry.IsUserKnown("alice") {
		t.Fatal("empty registry knows alice")
	}
	if err := registry.RegisterUser(alice); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if !registry.IsUserKnown("alice") {
		t.Fatal("alice not known after registration")
	}

	changed := alice
	changed.Password = "other"
	err := registry.RegisterUser(changed)
	if !errors.Is(err, ErrDuplicateRegistration) {
		t.Fatalf("duplicate: got %v", err)
	}
	entry, _ := registry.Entry("alice")
	if entry.User.Password != "secret" {
		t.Fatal("duplicate registration replaced the entry")
	}
	if registry.Len() != 1 {
		t.Fatalf("Len = %d", registry.Len())
	}
}

func TestRegistryAttach(t *testing.T) {
	registry := NewRegistry()
	alice := config.User{ID: "alice", Password: "secret", Port: 8388}
	tcpID := NewServerID("tcp", "0.0.0.0:8388")
	udpID := NewServerID("udp", "0.0.0.0:8388")

	err := registry.AttachTCPHandler(tcpID, alice, &fakeHandle{serverID: tcpID})
	if !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("attach to unknown user: got %v", err)
	}
	if registry.HasTCPServer(tcpID) {
		t.Fatal("server recorded for unknown user")
	}

	if err = registry.RegisterUser(alice); err != nil {
		t.Fatal(err)
	}
	if entry, _ := registry.Entry("alice"); len(entry.Handlers) != 0 {
		t.Fatalf("new entry has %d handlers", len(entry.Handlers))
	}
	if err = registry.AttachTCPHandler(tcpID, alice, &fakeHandle{serverID: tcpID}); err != nil {
		t.Fatal(err)
	}
	if err = registry.AttachUDPHandler(udpID, alice, &fakeHandle{serverID: udpID}); err != nil {
		t.Fatal(err)
	}

	handlers := registry.Handlers("alice")
	if len(handlers) != 2 {
		t.Fatalf("handlers = %d", len(handlers))
	}
	if handlers[0].ServerID() != tcpID || handlers[1].ServerID() != udpID {
		t.Fatalf("handlers out of order: %s, %s", handlers[0].ServerID(), handlers[1].ServerID())
	}
	if !registry.HasTCPServer(tcpID) || !registry.HasUDPServer(udpID) {
		t.Fatal("server ids not recorded")
	}
	if registry.HasUDPServer(tcpID) {
		t.Fatal("tcp server recorded as udp")
	}

	handlers[0] = nil
	if registry.Handlers("alice")[0] == nil {
		t.Fatal("Handlers exposed internal slice")
	}
}

func TestRegistryUsersAndClose(t *testing.T) {
	registry := NewRegistry()
	var handles []*fakeHandle
	for i, id := range []string{"carol", "alice", "bob"} {
		user := config.User{ID: id, Password: "x", Port: 9000 + i}
		if err := registry.RegisterUser(user); err != nil {
			t.Fatal(err)
		}
		serverID := NewServerID("tcp", net.JoinHostPort("127.0.0.1", id))
		handle := &fakeHandle{serverID: serverID}
		handles = append(handles, handle)
		if err := registry.AttachTCPHandler(serverID, user, handle); err != nil {
			t.Fatal(err)
		}
	}

	users := registry.Users()
	if len(users) != 3 || users[0] != "carol" || users[1] != "alice" || users[2] != "bob" {
		t.Fatalf("Users = %v", users)
	}
	tcp, udp := registry.ServerIDs()
	if len(tcp) != 3 || len(udp) != 0 {
		t.Fatalf("ServerIDs = %v, %v", tcp, udp)
	}
	if tcp[0] != "tcp://127.0.0.1:alice" {
		t.Fatalf("ServerIDs not sorted: %v", tcp)
	}

	if err := registry.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, handle := range handles {
		if handle.Closed() != 1 {
			t.Fatalf("%s closed %d times", handle.serverID, handle.Closed())
		}
	}
	if !registry.IsUserKnown("alice") {
		t.Fatal("Close removed users")
	}
}

func TestRegistryConcurrent(t *testing.T) {
	registry := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				registry.IsUserKnown("alice")
				registry.Users()
				registry.ServerIDs()
			}
		}()
	}
	for i := 0; i < 50; i++ {
		user := config.User{ID: string(rune('a' + i%26)) + string(rune('0' + i/26)), Password: "x", Port: 1000 + i}
		if err := registry.RegisterUser(user); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
	if registry.Len() != 50 {
		t.Fatalf("Len = %d", registry.Len())
	}
}
