package instrument

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// Service types advertised by LXI instruments.
const (
	ServiceSCPIRaw = "_scpi-raw._tcp"
	ServiceLXI     = "_lxi._tcp"
)

// Host is an analyzer found by Discover.
type Host struct {
	Instance  string // advertised name: "ZVA24 #101234"
	Hostname  string // "zva24-101234.local."
	Addresses []net.IP
	Port      int
	Service   string
	TXT       []string
}

// Address returns the host as a dialable address. LXI entries advertise
// their web port, so only raw SCPI entries keep the port.
func (h Host) Address() string {
	host := strings.TrimSuffix(h.Hostname, ".")
	for _, ip := range h.Addresses {
		if ip.To4() != nil {
			host = ip.String()
			break
		}
	}
	if host == "" && len(h.Addresses) > 0 {
		host = h.Addresses[0].String()
	}
	if h.Service == ServiceSCPIRaw && h.Port > 0 {
		return net.JoinHostPort(host, strconv.Itoa(h.Port))
	}
	return host
}

// Discover browses mDNS for raw SCPI and LXI services until timeout and
// returns one entry per host, preferring the raw SCPI advertisement.
func Discover(ctx context.Context, timeout time.Duration) ([]Host, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu    sync.Mutex
		found = make(map[string]Host)
		wg    sync.WaitGroup
	)

	for _, service := range []string{ServiceSCPIRaw, ServiceLXI} {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			cancel()
			wg.Wait()
			return nil, fmt.Errorf("resolver error: %w", err)
		}

		entries := make(chan *zeroconf.ServiceEntry)
		wg.Add(1)
		go func(service string) {
			defer wg.Done()
			for {
				select {
				case e, ok := <-entries:
					if !ok {
						return
					}
					if e == nil {
						continue
					}
					mu.Lock()
					merge(found, hostFromEntry(service, e))
					mu.Unlock()
				case <-ctx.Done():
					return
				}
			}
		}(service)

		if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
			cancel()
			wg.Wait()
			return nil, fmt.Errorf("browse %s: %w", service, err)
		}
	}

	wg.Wait()
	return sortedHosts(found), nil
}

func hostFromEntry(service string, e *zeroconf.ServiceEntry) Host {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Host{
		Instance:  cleanInstance(e.Instance),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		Service:   service,
		TXT:       append([]string{}, e.Text...),
	}
}

func merge(found map[string]Host, h Host) {
	key := h.Hostname
	if key == "" {
		key = h.Instance
	}
	if existing, ok := found[key]; ok && existing.Service == ServiceSCPIRaw && h.Service != ServiceSCPIRaw {
		return
	}
	found[key] = h
}

func sortedHosts(found map[string]Host) []Host {
	out := make([]Host, 0, len(found))
	for _, h := range found {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Instance != out[j].Instance {
			return out[i].Instance < out[j].Instance
		}
		return out[i].Hostname < out[j].Hostname
	})
	return out
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
