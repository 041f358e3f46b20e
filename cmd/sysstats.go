/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package cmd

import (
	"bufio"
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/vishvananda/netlink"
)

// SystemStats holds lightweight host measurements taken alongside each report.
type SystemStats struct {
	MemoryUsedMB    float64
	MemoryTotalMB   float64
	CPUPercent      float64
	ProcessMemoryMB float64
	NetworkRxMBps   float64
	NetworkTxMBps   float64
	NetworkRxPPS    float64
	NetworkTxPPS    float64
	StoreConns      int // Established connections to the store ports
	StoreConnDelta  int // Change since the previous sample
}

type netCounters struct {
	rxBytes, txBytes     uint64
	rxPackets, txPackets uint64
	at                   time.Time
}

// sysMonitor samples store connection counts every second and derives
// network rates between successive Sample calls.
type sysMonitor struct {
	ports []int

	mu        sync.Mutex
	conns     int
	prevConns int
	lastNet   *netCounters
}

func newSysMonitor(ports []int) *sysMonitor {
	return &sysMonitor{ports: ports}
}

// watch refreshes the connection count until ctx is done.
func (m *sysMonitor) watch(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := countStoreConns(m.ports)
			m.mu.Lock()
			m.prevConns, m.conns = m.conns, n
			m.mu.Unlock()
		}
	}
}

// Sample returns the current host statistics.
func (m *sysMonitor) Sample() SystemStats {
	stats := SystemStats{}
	readMemInfo(&stats)
	stats.CPUPercent = loadPercent()
	stats.ProcessMemoryMB = getProcessMemoryMB()

	m.mu.Lock()
	defer m.mu.Unlock()
	stats.StoreConns = m.conns
	stats.StoreConnDelta = m.conns - m.prevConns

	cur := readNetCounters()
	if cur != nil && m.lastNet != nil {
		if dt := cur.at.Sub(m.lastNet.at).Seconds(); dt > 0 {
			stats.NetworkRxMBps = float64(cur.rxBytes-m.lastNet.rxBytes) / dt / (1024 * 1024)
			stats.NetworkTxMBps = float64(cur.txBytes-m.lastNet.txBytes) / dt / (1024 * 1024)
			stats.NetworkRxPPS = float64(cur.rxPackets-m.lastNet.rxPackets) / dt
			stats.NetworkTxPPS = float64(cur.txPackets-m.lastNet.txPackets) / dt
		}
	}
	m.lastNet = cur
	return stats
}

// countStoreConns counts established TCP connections to any of ports, or all
// established connections when ports is empty. Netlink socket diagnostics
// are preferred; /proc/net/tcp is the fallback.
func countStoreConns(ports []int) int {
	total := 0
	for _, family := range []uint8{syscall.AF_INET, syscall.AF_INET6} {
		socks, err := netlink.SocketDiagTCP(family)
		if err != nil {
			return countStoreConnsFromProc(ports)
		}
		for _, s := range socks {
			if s.State == netlink.TCP_ESTABLISHED && matchPort(ports, int(s.ID.DestinationPort)) {
				total++
			}
		}
	}
	return total
}

func matchPort(ports []int, port int) bool {
	if len(ports) == 0 {
		return true
	}
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}

func countStoreConnsFromProc(ports []int) int {
	total := 0
	for _, path := range []string{"/proc/net/tcp", "/proc/net/tcp6"} {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(f)
		sc.Scan() // header
		for sc.Scan() {
			fields := strings.Fields(sc.Text())
			if len(fields) < 4 || fields[3] != "01" { // ESTABLISHED
				continue
			}
			remote := fields[2]
			i := strings.LastIndexByte(remote, ':')
			if i < 0 {
				continue
			}
			port, err := strconv.ParseInt(remote[i+1:], 16, 32)
			if err == nil && matchPort(ports, int(port)) {
				total++
			}
		}
		f.Close()
	}
	return total
}

func readMemInfo(stats *SystemStats) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return
	}
	var availableMB float64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			stats.MemoryTotalMB = kb / 1024
		case "MemAvailable:":
			availableMB = kb / 1024
		}
	}
	stats.MemoryUsedMB = stats.MemoryTotalMB - availableMB
}

// loadPercent converts the 1-minute load average into a rough CPU percentage.
func loadPercent() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	pct := load / float64(runtime.NumCPU()) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// readNetCounters sums /proc/net/dev over every interface except loopback.
func readNetCounters() *netCounters {
	data, err := os.ReadFile("/proc/net/dev")
	if err != nil {
		return nil
	}
	c := &netCounters{at: time.Now()}
	for _, line := range strings.Split(string(data), "\n") {
		name, rest, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok || name == "lo" {
			continue
		}
		parts := strings.Fields(rest)
		if len(parts) < 16 {
			continue
		}
		c.rxBytes += parseUint(parts[0])
		c.rxPackets += parseUint(parts[1])
		c.txBytes += parseUint(parts[8])
		c.txPackets += parseUint(parts[9])
	}
	return c
}

func parseUint(s string) uint64 {
	n, _ := strconv.ParseUint(s, 10, 64)
	return n
}

// getProcessMemoryMB returns the resident set size of this process in MB.
func getProcessMemoryMB() float64 {
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		if fields := strings.Fields(line); len(fields) >= 2 {
			if kb, err := strconv.ParseFloat(fields[1], 64); err == nil {
				return kb / 1024
			}
		}
	}
	return 0
}
