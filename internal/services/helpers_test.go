package services

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"domainpilot/internal/database"
	"domainpilot/internal/models"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePusher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakePusher) PushRecords(ctx context.Context, domain string, records []models.DNSRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type fakeExec struct {
	mu    sync.Mutex
	calls []string
	out   string
	err   error
}

func (f *fakeExec) Run(ctx context.Context, command string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, command)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

func (f *fakeExec) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// newDoHServer serves wire-format DNS answers for the given expectations,
// keyed by "<fqdn-without-dot>|<TYPE>". Unknown names get an empty answer
// section, like a resolver that has not seen the record propagate.
func newDoHServer(t *testing.T, answers map[string][]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if !assert.NoError(t, err) {
			return
		}
		var query dns.Msg
		if !assert.NoError(t, query.Unpack(body)) {
			return
		}

		reply := new(dns.Msg)
		reply.SetReply(&query)
		q := query.Question[0]
		key := strings.TrimSuffix(q.Name, ".") + "|" + dns.TypeToString[q.Qtype]
		hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: 300}
		for _, val := range answers[key] {
			switch q.Qtype {
			case dns.TypeA:
				reply.Answer = append(reply.Answer, &dns.A{Hdr: hdr, A: net.ParseIP(val)})
			case dns.TypeAAAA:
				reply.Answer = append(reply.Answer, &dns.AAAA{Hdr: hdr, AAAA: net.ParseIP(val)})
			case dns.TypeMX:
				reply.Answer = append(reply.Answer, &dns.MX{Hdr: hdr, Preference: 10, Mx: dns.Fqdn(val)})
			case dns.TypeTXT:
				reply.Answer = append(reply.Answer, &dns.TXT{Hdr: hdr, Txt: []string{val}})
			}
		}

		packed, err := reply.Pack()
		if !assert.NoError(t, err) {
			return
		}
		w.Header().Set("Content-Type", "application/dns-message")
		w.Write(packed)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestStore(t *testing.T) *database.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.InitDB(dsn)
	require.NoError(t, err)
	return database.NewStore(db)
}

// newTestOrchestrator wires an orchestrator against an in-memory store with a
// fast health window. resolve may be nil for the default (simulated) mode.
func newTestOrchestrator(t *testing.T, pusher RecordPusher, resolverURL string, resolve func(models.DeploymentConfig) (ExecutionMode, error)) (*Orchestrator, *database.Store) {
	t.Helper()
	store := newTestStore(t)
	monitor := NewMonitor()
	driver := NewDriver(monitor, nil)
	driver.HealthWindow = 100 * time.Millisecond
	driver.HealthInterval = 5 * time.Millisecond

	orch := NewOrchestrator(Deps{
		Store:       store,
		Pusher:      pusher,
		Verifier:    NewVerifier(resolverURL),
		Certs:       NewProvisioner("ops@example.com", nil),
		Driver:      driver,
		Monitor:     monitor,
		ResolveMode: resolve,
	})
	return orch, store
}
