package relay

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// URLs are the advertised ways to reach the relay from another device.
type URLs struct {
	Connect string // best guess, shown in the connect QR code
	MDNS    string // hostname.local, works without knowing the IP
	LAN     string // numeric LAN address
}

func buildMDNSURL(hostname string, port int) string {
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return ""
	}
	trimmed := strings.TrimSuffix(hostname, ".local")
	return fmt.Sprintf("http://%s.local:%d", trimmed, port)
}

// localIP picks the machine's primary outbound-capable address without
// sending any packets.
func localIP() string {
	conn, err := net.Dial("udp", "192.0.2.1:80")
	if err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP != nil && !addr.IP.IsLoopback() {
			return addr.IP.String()
		}
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}

// BuildURLs derives the advertised relay URLs for port. The LAN address is
// preferred for connecting; the mDNS name is the fallback when no routable
// address could be determined.
func BuildURLs(port int) URLs {
	var urls URLs

	hostname, _ := os.Hostname()
	urls.MDNS = buildMDNSURL(hostname, port)

	if ip := localIP(); ip != "" {
		urls.LAN = fmt.Sprintf("http://%s:%d", ip, port)
	}

	urls.Connect = urls.LAN
	if urls.Connect == "" {
		urls.Connect = urls.MDNS
	}
	return urls
}

// ResolveConnectURL returns just the preferred connect URL for port.
func ResolveConnectURL(port int) string {
	return BuildURLs(port).Connect
}
