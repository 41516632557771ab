package remote

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ProxyHTTP forwards an HTTP request to the owning remote with its stored
// bearer token and streams the response back unchanged. Flushing after
// every chunk keeps SSE streams live through the proxy.
func ProxyHTTP(c *gin.Context, rem *Remote) {
	target := strings.TrimSuffix(rem.URL, "/") + c.Request.URL.Path
	if c.Request.URL.RawQuery != "" {
		target += "?" + c.Request.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "kind": "RemoteUnavailable"})
		return
	}
	for k, vals := range c.Request.Header {
		if strings.EqualFold(k, "Authorization") {
			continue
		}
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if rem.Token != "" {
		req.Header.Set("Authorization", "Bearer "+rem.Token)
	}

	// No overall timeout: SSE responses are long-lived and end with the
	// client or the session, not a clock.
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "kind": "RemoteUnavailable"})
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		for _, v := range vals {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Status(resp.StatusCode)

	flusher, _ := c.Writer.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

// ProxyWebSocket bridges a client WebSocket to the same path on the owning
// remote, relaying frames byte-for-byte in both directions.
func ProxyWebSocket(c *gin.Context, rem *Remote, upgrader websocket.Upgrader) {
	remoteURL, err := url.Parse(rem.URL)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "kind": "RemoteUnavailable"})
		return
	}
	scheme := "ws"
	if remoteURL.Scheme == "https" {
		scheme = "wss"
	}
	target := url.URL{
		Scheme:   scheme,
		Host:     remoteURL.Host,
		Path:     c.Request.URL.Path,
		RawQuery: c.Request.URL.RawQuery,
	}

	header := http.Header{}
	if rem.Token != "" {
		header.Set("Authorization", "Bearer "+rem.Token)
	}
	upstream, resp, err := websocket.DefaultDialer.Dial(target.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "kind": "RemoteUnavailable"})
		return
	}

	client, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		_ = upstream.Close()
		logrus.Errorf("Failed to upgrade proxied WebSocket: %v", err)
		return
	}

	errCh := make(chan error, 2)
	go pump(client, upstream, errCh)
	go pump(upstream, client, errCh)
	<-errCh
	_ = client.Close()
	_ = upstream.Close()
}

func pump(dst, src *websocket.Conn, errCh chan<- error) {
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			errCh <- err
			return
		}
	}
}
