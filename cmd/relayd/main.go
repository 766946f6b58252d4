// Command relayd is the untrusted relay of spec.md §4.4: a dumb
// best-effort UDP forwarder that never sees plaintext and authenticates
// no one — REGISTER binds a fingerprint to whichever address it arrived
// from, LIST hands back the current directory, and RELAY is forwarded
// unchanged (still RELAY-framed, opaque payload inside) to a registered
// fingerprint's last-known address.
package main

import (
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"dnieim/internal/domain"
	"dnieim/internal/wire/relaywire"
)

// registrationTTL is how long a REGISTER stays valid without a fresh one
// re-asserting it; spec.md's open question on registration squatting notes
// the relay does not authenticate clients, so this is best-effort hygiene
// rather than a security boundary.
const registrationTTL = 120 * time.Second

const sweepInterval = 30 * time.Second

type registration struct {
	addr        *net.UDPAddr
	staticPub   domain.X25519Public
	displayName string
	lastSeen    time.Time
}

type registry struct {
	mu            sync.Mutex
	byFingerprint map[domain.Fingerprint]*registration
}

func newRegistry() *registry {
	return &registry{byFingerprint: make(map[domain.Fingerprint]*registration)}
}

func (r *registry) register(fp domain.Fingerprint, addr *net.UDPAddr, pub domain.X25519Public, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byFingerprint[fp] = &registration{addr: addr, staticPub: pub, displayName: name, lastSeen: time.Now()}
}

func (r *registry) lookup(fp domain.Fingerprint) (*registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.byFingerprint[fp]
	return reg, ok
}

func (r *registry) snapshot() []relaywire.ListEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]relaywire.ListEntry, 0, len(r.byFingerprint))
	for fp, reg := range r.byFingerprint {
		out = append(out, relaywire.ListEntry{Fingerprint: fp, StaticPub: reg.staticPub, DisplayName: reg.displayName})
	}
	return out
}

func (r *registry) evictStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-registrationTTL)
	for fp, reg := range r.byFingerprint {
		if reg.lastSeen.Before(cutoff) {
			delete(r.byFingerprint, fp)
		}
	}
}

func main() {
	listen := pflag.StringP("listen", "l", ":7777", "UDP address to listen on")
	pflag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	addr, err := net.ResolveUDPAddr("udp", *listen)
	if err != nil {
		log.Error("relayd: resolve listen address", "error", err)
		os.Exit(1)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		log.Error("relayd: listen", "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	log.Info("relayd: listening", "addr", conn.LocalAddr())

	reg := newRegistry()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				reg.evictStale()
			}
		}
	}()

	buf := make([]byte, 64*1024)
	for {
		select {
		case <-stop:
			close(done)
			log.Info("relayd: shutting down")
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.Warn("relayd: read error", "error", err)
			continue
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		handleMessage(log, conn, reg, from, msg)
	}
}

func handleMessage(log *slog.Logger, conn *net.UDPConn, reg *registry, from *net.UDPAddr, buf []byte) {
	op, err := relaywire.PeekOpcode(buf)
	if err != nil {
		return
	}
	switch op {
	case relaywire.OpRegister:
		r, err := relaywire.DecodeRegister(buf)
		if err != nil {
			log.Debug("relayd: malformed REGISTER", "from", from, "error", err)
			return
		}
		reg.register(r.Fingerprint, from, r.StaticPub, r.DisplayName)
		log.Info("relayd: register", "fingerprint", r.Fingerprint, "from", from)
		ack, err := relaywire.EncodeRegisterAck(relaywire.RegisterAck{Fingerprint: r.Fingerprint})
		if err != nil {
			return
		}
		if _, err := conn.WriteToUDP(ack, from); err != nil {
			log.Warn("relayd: ack write failed", "error", err)
		}

	case relaywire.OpList:
		resp, err := relaywire.EncodeListResp(relaywire.ListResp{Entries: reg.snapshot()})
		if err != nil {
			log.Warn("relayd: encode LIST_RESP", "error", err)
			return
		}
		if _, err := conn.WriteToUDP(resp, from); err != nil {
			log.Warn("relayd: list write failed", "error", err)
		}

	case relaywire.OpRelay:
		r, err := relaywire.DecodeRelay(buf)
		if err != nil {
			log.Debug("relayd: malformed RELAY", "from", from, "error", err)
			return
		}
		dest, ok := reg.lookup(r.DestFingerprint)
		if !ok {
			log.Debug("relayd: relay to unknown fingerprint", "fingerprint", r.DestFingerprint)
			return
		}
		if _, err := conn.WriteToUDP(buf, dest.addr); err != nil {
			log.Warn("relayd: forward failed", "error", err)
		}

	default:
		log.Debug("relayd: unknown opcode", "opcode", op, "from", from)
	}
}
