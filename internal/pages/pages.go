// Package pages holds the responder handlers served by the demo programs.
package pages

import (
	"html"

	"github.com/leonletto/webdemos/internal/responder"
)

const checkIPPage = `<html><head><meta name="robots" content="noindex"/><title>Current IP Check</title></head><body>Current IP Address: %s</body></html>`

// CheckIP answers "/" with the caller's IP address. Other URIs are not
// handled and end up as 404.
func CheckIP(c *responder.Conn, ev responder.Event) responder.Verdict {
	switch ev {
	case responder.EventAuth:
		return responder.True
	case responder.EventRequest:
		if c.URI != "/" {
			return responder.False
		}
		WriteCheckIP(c)
		return responder.True
	default:
		return responder.False
	}
}

// WriteCheckIP writes the IP report, with headers that keep proxies and
// browsers from caching it and search engines from indexing it.
func WriteCheckIP(c *responder.Conn) {
	c.SendHeader("Cache-Control", "max-age=0, post-check=0, pre-check=0, no-store, no-cache, must-revalidate")
	c.SendHeader("Pragma", "no-cache")
	c.SendHeader("Content-Type", "text/html")
	c.SendHeader("X-Robots-Tag", "noindex")
	_, _ = c.Printf(checkIPPage, html.EscapeString(c.RemoteIP))
}

// Echo answers every request with a table describing it.
func Echo(c *responder.Conn, ev responder.Event) responder.Verdict {
	switch ev {
	case responder.EventAuth:
		return responder.True
	case responder.EventRequest:
		WriteEcho(c)
		return responder.True
	default:
		return responder.False
	}
}

// WriteEcho writes the request's IP, request line, headers and content as
// an HTML table. Every request value is escaped.
func WriteEcho(c *responder.Conn) {
	c.SendHeader("Content-Type", "text/html")
	c.SendHeader("X-Robots-Tag", "noindex")

	esc := html.EscapeString
	c.Printf("<html>\n<head>\n<title>Hello World</title>\n</head>\n<body>\n<table border='0'>\n")
	c.Printf("<tr><td>IP address</td><td>%s</td></tr>", esc(c.RemoteIP))
	c.Printf("<tr><td>Method</td><td>%s</td></tr>", esc(c.Method))
	c.Printf("<tr><td>URI</td><td>%s</td></tr>", esc(c.URI))
	c.Printf("<tr><td>Query</td><td>%s</td></tr>", esc(c.Query))

	c.Printf("<tr><td colspan='2' align='center'>H E A D E R S</td></tr>")
	for _, h := range c.Headers {
		c.Printf("<tr><td>%s:</td><td>%s</td></tr>", esc(h.Name), esc(h.Value))
	}

	if len(c.Content) > 0 {
		c.Printf("<tr><td colspan='2' align='center'>C O N T E N T</td></tr>")
		c.Printf("<tr><td>Length</td><td>%d</td></tr>", len(c.Content))
		c.Printf("<tr><td>Content</td><td>%s</td></tr>", esc(string(c.Content)))
	}
	c.Printf("</table>\n</body>\n</html>")
}
