package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"domainpilot/internal/models"

	"github.com/miekg/dns"
)

const (
	verifyTimeout = 15 * time.Second // aggregate bound for one report
	queryTimeout  = 5 * time.Second  // per lookup
)

// RecordKey identifies one expected record inside a verification report.
type RecordKey struct {
	Type models.RecordType
	Name string
}

// VerificationReport maps each checked record to whether its live answer
// matches the expected value. A lookup error counts as false, same as an
// absent record.
type VerificationReport map[RecordKey]bool

// AllVerified reports whether every checked record resolved as expected.
func (r VerificationReport) AllVerified() bool {
	if len(r) == 0 {
		return false
	}
	for _, ok := range r {
		if !ok {
			return false
		}
	}
	return true
}

// Verified counts the records that resolved as expected.
func (r VerificationReport) Verified() int {
	n := 0
	for _, ok := range r {
		if ok {
			n++
		}
	}
	return n
}

// Verifier resolves live DNS answers through a public DNS-over-HTTPS resolver
// and compares them against expected record values. It is read-only and safe
// to call any number of times.
type Verifier struct {
	resolverURL string
	client      *http.Client
}

func NewVerifier(resolverURL string) *Verifier {
	return &Verifier{
		resolverURL: resolverURL,
		client:      &http.Client{Timeout: queryTimeout},
	}
}

// Verifiable reports whether the verifier can check this record type.
// CNAME/NS/PTR/SRV records are pushed but not gated on.
func Verifiable(t models.RecordType) bool {
	switch t {
	case models.RecordA, models.RecordAAAA, models.RecordMX, models.RecordTXT:
		return true
	}
	return false
}

// VerifyRecords checks every verifiable record independently and concurrently.
// Partial propagation is expected: a record that times out or mismatches is
// reported false, it never aborts the report.
func (v *Verifier) VerifyRecords(ctx context.Context, domain string, records []models.DNSRecord) VerificationReport {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	report := make(VerificationReport)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, rec := range records {
		if !Verifiable(rec.Type) {
			continue
		}
		wg.Add(1)
		go func(rec models.DNSRecord) {
			defer wg.Done()
			ok := v.verifyOne(ctx, domain, rec)
			mu.Lock()
			report[RecordKey{Type: rec.Type, Name: rec.Name}] = ok
			mu.Unlock()
		}(rec)
	}
	wg.Wait()

	return report
}

func (v *Verifier) verifyOne(ctx context.Context, domain string, rec models.DNSRecord) bool {
	host := rec.FQDN(domain)

	switch rec.Type {
	case models.RecordA:
		answers, err := v.lookup(ctx, host, dns.TypeA)
		return err == nil && contains(answers, rec.Value)
	case models.RecordAAAA:
		answers, err := v.lookup(ctx, host, dns.TypeAAAA)
		return err == nil && contains(answers, rec.Value)
	case models.RecordMX:
		// Substring match: priority formatting varies by resolver.
		answers, err := v.lookup(ctx, host, dns.TypeMX)
		return err == nil && containsSubstring(answers, strings.TrimSuffix(rec.Value, "."))
	case models.RecordTXT:
		answers, err := v.lookup(ctx, host, dns.TypeTXT)
		return err == nil && containsSubstring(answers, rec.Value)
	}
	return false
}

// lookup issues one wire-format query against the DoH resolver and flattens
// the answer section into comparable strings.
func (v *Verifier) lookup(ctx context.Context, name string, qtype uint16) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	packed, err := m.Pack()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.resolverURL, bytes.NewReader(packed))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resolver returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	reply := new(dns.Msg)
	if err := reply.Unpack(body); err != nil {
		return nil, err
	}

	var answers []string
	for _, rr := range reply.Answer {
		switch a := rr.(type) {
		case *dns.A:
			answers = append(answers, a.A.String())
		case *dns.AAAA:
			answers = append(answers, a.AAAA.String())
		case *dns.MX:
			answers = append(answers, strings.TrimSuffix(a.Mx, "."))
		case *dns.TXT:
			answers = append(answers, strings.Trim(strings.Join(a.Txt, ""), `"`))
		}
	}
	return answers, nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func containsSubstring(values []string, want string) bool {
	for _, v := range values {
		if strings.Contains(v, want) {
			return true
		}
	}
	return false
}
