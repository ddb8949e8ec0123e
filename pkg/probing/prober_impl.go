package probing

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// NewProber returns a new Prober that probes targets over tr. If tr
// is nil, http.DefaultTransport is used.
func NewProber(tr http.RoundTripper) Prober {
	if tr == nil {
		tr = http.DefaultTransport
	}
	return &prober{
		client: &http.Client{Transport: tr},
		probes: make(map[string]*probe),
	}
}

type prober struct {
	mu     sync.Mutex
	client *http.Client
	probes map[string]*probe
}

type probe struct {
	url    string
	status *status

	stopc chan struct{}
}

func (p *prober) AddHTTP(id string, interval time.Duration, endpoints []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.probes[id]; ok {
		return ErrExist
	}
	if len(endpoints) == 0 {
		return ErrNotFound
	}

	pb := &probe{
		url:    endpoints[0],
		status: &status{stopc: make(chan struct{})},
		stopc:  make(chan struct{}),
	}
	p.probes[id] = pb

	go pb.run(p.client, interval)
	return nil
}

func (pb *probe) run(client *http.Client, interval time.Duration) {
	tk := time.NewTicker(interval)
	defer tk.Stop()

	for {
		select {
		case <-pb.stopc:
			return
		case <-tk.C:
			pb.once(client)
		}
	}
}

func (pb *probe) once(client *http.Client) {
	sent := time.Now()
	resp, err := client.Get(pb.url)
	if err != nil {
		pb.status.recordFailure(err)
		return
	}
	defer resp.Body.Close()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		pb.status.recordFailure(err)
		return
	}
	pb.status.record(time.Since(sent), sent)
}

func (p *prober) Remove(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pb, ok := p.probes[id]
	if !ok {
		return ErrNotFound
	}
	close(pb.stopc)
	delete(p.probes, id)
	return nil
}

func (p *prober) RemoveAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, pb := range p.probes {
		close(pb.stopc)
		delete(p.probes, id)
	}
}

func (p *prober) Reset(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pb, ok := p.probes[id]
	if !ok {
		return ErrNotFound
	}
	pb.status.reset()
	return nil
}

func (p *prober) Status(id string) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pb, ok := p.probes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return pb.status, nil
}
