package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/miekg/dns"
)

// envstub answers DNS TXT queries with an environment endpoint record of the
// form "endpoint=<url> env=<name> notafter=<unix>", matching what the action
// registry's discovery path expects. It exists so operators can exercise
// lookup-based environments locally without real DNS infrastructure.
func main() {
	var (
		lookup     = flag.String("lookup", "env.zke.local", "TXT record name to answer for")
		envName    = flag.String("env", "testnet", "Environment identifier advertised in the record")
		endpoint   = flag.String("endpoint", "http://127.0.0.1:9191", "Receiver endpoint URL to advertise")
		listenAddr = flag.String("listen", "127.0.0.1:8053", "Address to listen on (ip:port)")
		ttlSeconds = flag.Int("ttl", 60, "TXT record TTL in seconds")
		validFor   = flag.Duration("valid-for", 0, "Optional validity window; 0 advertises no notafter bound")
	)
	flag.Parse()

	fqdn := dns.Fqdn(strings.TrimSpace(*lookup))
	if fqdn == "." {
		log.Fatal("lookup name is empty")
	}
	if strings.TrimSpace(*endpoint) == "" {
		log.Fatal("endpoint is empty")
	}

	txtValue := fmt.Sprintf("endpoint=%s env=%s", strings.TrimSpace(*endpoint), strings.ToLower(strings.TrimSpace(*envName)))
	if *validFor > 0 {
		txtValue = fmt.Sprintf("%s notafter=%d", txtValue, time.Now().Add(*validFor).Unix())
	}

	handler := func(w dns.ResponseWriter, r *dns.Msg) {
		msg := &dns.Msg{}
		msg.SetReply(r)
		msg.Authoritative = true

		if len(r.Question) == 0 {
			_ = w.WriteMsg(msg)
			return
		}

		question := r.Question[0]
		name := strings.ToLower(question.Name)
		switch question.Qtype {
		case dns.TypeTXT:
			if name == strings.ToLower(fqdn) {
				rr := &dns.TXT{Hdr: dns.RR_Header{Name: fqdn, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: uint32(*ttlSeconds)}, Txt: []string{txtValue}}
				msg.Answer = append(msg.Answer, rr)
			} else {
				msg.Rcode = dns.RcodeNameError
			}
		default:
			msg.Rcode = dns.RcodeNotImplemented
		}

		if err := w.WriteMsg(msg); err != nil {
			log.Printf("failed to write DNS response: %v", err)
		}
	}

	dns.HandleFunc(".", handler)

	server := &dns.Server{Addr: *listenAddr, Net: "udp"}
	go func() {
		log.Printf("environment DNS stub listening on %s for %s", *listenAddr, fqdn)
		if err := server.ListenAndServe(); err != nil {
			log.Fatalf("dns server error: %v", err)
		}
	}()

	tcpServer := &dns.Server{Addr: *listenAddr, Net: "tcp"}
	go func() {
		if err := tcpServer.ListenAndServe(); err != nil {
			log.Fatalf("dns tcp server error: %v", err)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = server.ShutdownContext(shutdownCtx)
	_ = tcpServer.ShutdownContext(shutdownCtx)
	log.Println("environment DNS stub shut down")
}
