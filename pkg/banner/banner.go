package banner

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
)

func Print() {
	art := `
   agent ----------->>> controller
     \_ SOCKS5 over a single outbound stream _/
`
	c := color.New(color.FgCyan, color.Bold)
	c.Println(art)

	fmt.Printf("   Reverse SOCKS5 Agent\n")
	fmt.Printf("   Start Time: %s\n", time.Now().Format(time.RFC1123))
	fmt.Println(strings.Repeat("-", 50))
}

// PrintConnected reports the outcome of the dial + handshake to the
// controller, before the multiplexer accept loop starts.
func PrintConnected(host string, port uint16, tls bool, users int) {
	color.Green("✓ Connected to controller")
	fmt.Printf("   • Controller:  %s:%d\n", host, port)
	status := "Plaintext"
	if tls {
		status = "TLS/Secure"
	}
	fmt.Printf("   • Transport:   %s\n", status)
	if users > 0 {
		fmt.Printf("   • Auth:        USER/PASS (%d credential(s))\n", users)
	} else {
		fmt.Printf("   • Auth:        NO AUTH\n")
	}
	fmt.Println(strings.Repeat("-", 50))
}
