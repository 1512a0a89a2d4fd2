package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/OFFIS-RIT/kgqa/pkg/loader"
)

const article = `<!DOCTYPE html>
<html><head><title>定投</title></head>
<body>
<nav><a href="/">首页</a></nav>
<article>
<h1>为什么要定投</h1>
<p>定投是一种长期投资策略，投资者在固定的时间以固定的金额买入指数基金，从而摊薄成本、降低择时风险。李笑来在《让时间陪你慢慢变富》中反复强调，定投的关键在于坚持，而不是预测市场的短期涨跌。</p>
<p>对于普通投资者来说，选择宽基指数、设置合理的定投周期并长期执行，往往比频繁交易获得更稳定的回报。</p>
</article>
</body></html>`

func TestGetFileText(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/plain":
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte("纯文本内容"))
		case "/article":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(article))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	l := NewWebGraphLoader(srv.Client())

	got, err := l.GetFileText(ctx, loader.GraphFile{ID: "p", Path: srv.URL + "/plain"})
	if err != nil || string(got) != "纯文本内容" {
		t.Fatalf("plain = %q, %v", got, err)
	}
	if _, err := l.GetFileText(ctx, loader.GraphFile{ID: "p", Path: srv.URL + "/plain"}); err != nil || hits.Load() != 1 {
		t.Fatalf("second fetch not cached: hits = %d, err = %v", hits.Load(), err)
	}

	got, err = l.GetFileText(ctx, loader.GraphFile{ID: "a", Path: srv.URL + "/article"})
	if err != nil {
		t.Fatalf("article error = %v", err)
	}
	if !strings.Contains(string(got), "定投的关键在于坚持") || strings.Contains(string(got), "<p>") {
		t.Fatalf("article text = %q", got)
	}

	if _, err := l.GetFileText(ctx, loader.GraphFile{ID: "m", Path: srv.URL + "/missing"}); err == nil {
		t.Fatalf("expected error for 404")
	}
	if _, err := l.GetFileText(ctx, loader.GraphFile{ID: "f", Path: "file:///etc/passwd"}); err == nil {
		t.Fatalf("expected error for non-http url")
	}
}
