// Package dashboard serves the embedded evidence chain viewer.
//
// The viewer is mounted on /dashboard with a live feed on /dashboard/ws.
// It is a single embedded HTML page with no build step: data comes from
// the main API (/chain, /evidence/{ref}, /verify, /audit) and new
// captures are pushed over the WebSocket as they are sealed.
package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/forensicd/forensicd/internal/evidence"
)

// Dashboard serves the web UI and pushes capture events to connected
// viewers. Implements http.Handler for the page itself.
type Dashboard struct {
	wsHub *wsHub
}

// New creates the dashboard and starts its broadcast hub.
func New() *Dashboard {
	d := &Dashboard{wsHub: newWSHub()}
	go d.wsHub.run()
	return d
}

// ServeHTTP serves the embedded viewer page.
func (d *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(dashboardHTML))
}

// WebSocketHandler returns the handler for /dashboard/ws. Clients
// connect here to receive newly sealed blocks without polling.
func (d *Dashboard) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.handleWebSocket(w, r)
	})
}

// BroadcastBlock pushes a freshly sealed block to all connected viewers.
// Wired to the collector's capture hook. Non-blocking: with no viewers
// connected the event is dropped.
func (d *Dashboard) BroadcastBlock(b evidence.Block) {
	data, err := json.Marshal(map[string]any{"event": "capture", "block": b})
	if err != nil {
		slog.Error("failed to marshal broadcast block", "error", err)
		return
	}
	d.wsHub.broadcast(data)
}

// dashboardHTML is the embedded evidence chain viewer. Single page, no
// framework: periodic fetch of the chain and audit feed, WebSocket for
// new captures, and per-incident View / Verify actions.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Forensicd Evidence Chain</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
         background: #0f1117; color: #e1e4e8; padding: 24px; }
  h1 { font-size: 24px; margin-bottom: 8px; }
  .subtitle { color: #8b949e; margin-bottom: 24px; }
  .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; margin-bottom: 24px; }
  .card { background: #161b22; border: 1px solid #30363d; border-radius: 8px; padding: 16px; }
  .card h2 { font-size: 14px; color: #8b949e; text-transform: uppercase; margin-bottom: 12px; }
  table { width: 100%; border-collapse: collapse; font-size: 13px; }
  th { text-align: left; color: #8b949e; padding: 6px 8px; border-bottom: 1px solid #30363d; }
  td { padding: 6px 8px; border-bottom: 1px solid #21262d; }
  .hash { font-family: monospace; font-size: 11px; color: #8b949e; }
  .sev-critical { color: #f85149; font-weight: bold; }
  .sev-warning { color: #d29922; }
  .sev-info { color: #58a6ff; }
  .chain-valid { color: #3fb950; font-weight: bold; }
  .chain-broken { color: #f85149; font-weight: bold; }
  #live-feed { max-height: 300px; overflow-y: auto; font-family: monospace; font-size: 12px; }
  .feed-entry { padding: 4px 0; border-bottom: 1px solid #21262d; }
  .btn { background: #21262d; border: 1px solid #30363d; color: #e1e4e8;
         padding: 4px 12px; border-radius: 4px; cursor: pointer; font-size: 12px; }
  .btn:hover { background: #30363d; }
  #evidence-detail { display: none; white-space: pre-wrap; font-family: monospace;
         font-size: 12px; max-height: 480px; overflow-y: auto; }
</style>
</head>
<body>
<h1>Forensicd</h1>
<p class="subtitle">Tamper-evident incident evidence chain</p>

<div class="grid">
  <div class="card">
    <h2>Evidence Chain <span id="chain-status"></span></h2>
    <table>
      <thead><tr><th>Seq</th><th>Incident</th><th>Type</th><th>Captured</th><th>Hash</th><th></th></tr></thead>
      <tbody id="chain-tbody"><tr><td colspan="6">Loading...</td></tr></tbody>
    </table>
  </div>
  <div class="card">
    <h2>Chain Summary</h2>
    <table>
      <tbody id="summary-tbody"><tr><td>Loading...</td></tr></tbody>
    </table>
    <p style="margin-top:12px">
      <button class="btn" onclick="verifyChain()">Verify Full Chain</button>
    </p>
  </div>
</div>

<div class="card" style="margin-bottom:24px">
  <h2>Evidence Detail</h2>
  <div id="evidence-detail"></div>
  <div id="evidence-empty" style="color:#8b949e;font-size:13px">Select View on an incident above.</div>
</div>

<div class="card">
  <h2>Live Capture Feed</h2>
  <div id="live-feed"><div class="feed-entry">Connecting...</div></div>
</div>

<script>
function esc(s) {
  if (s == null) return '';
  return String(s).replace(/&/g,'&amp;').replace(/</g,'&lt;').replace(/>/g,'&gt;').replace(/"/g,'&quot;').replace(/'/g,'&#39;');
}
function shortHash(h) { return h === 'GENESIS' ? h : (h || '').slice(0, 12) + '…'; }

async function refresh() {
  try {
    const res = await fetch('/chain?limit=25');
    const chain = await res.json();
    renderChain(chain);
    renderSummary(chain);
  } catch(e) { console.error('refresh failed:', e); }
}

function renderChain(chain) {
  const tbody = document.getElementById('chain-tbody');
  const blocks = chain.blocks || [];
  if (blocks.length === 0) { tbody.innerHTML = '<tr><td colspan="6">No evidence yet</td></tr>'; return; }
  tbody.innerHTML = blocks.map(b => {
    const id = esc(b.id);
    return '<tr><td>' + b.seq + '</td><td>' + id + '</td><td>' + esc(b.type) +
      '</td><td>' + esc(b.ts) + '</td><td class="hash" title="' + esc(b.content_hash) + '">' +
      shortHash(b.content_hash) + '</td><td>' +
      '<button class="btn" onclick="viewEvidence(\'' + id + '\')">View</button> ' +
      '<button class="btn" onclick="verifyBlock(\'' + id + '\')">Verify</button></td></tr>';
  }).join('');
}

function renderSummary(chain) {
  const tbody = document.getElementById('summary-tbody');
  const storage = chain.storage || {};
  tbody.innerHTML =
    '<tr><td>Chain length</td><td>' + (chain.chain_length || 0) + '</td></tr>' +
    '<tr><td>Integrity</td><td>' + (chain.valid
        ? '<span class="chain-valid">VALID</span>'
        : '<span class="chain-broken">BROKEN</span>') + '</td></tr>' +
    '<tr><td>Verified blocks</td><td>' + (chain.verified || 0) + ' / ' + (chain.total || 0) + '</td></tr>' +
    '<tr><td>Stored payloads</td><td>' + (storage.payloads || 0) + '</td></tr>' +
    '<tr><td>Evidence size</td><td>' + ((storage.size_bytes || 0) / 1024).toFixed(1) + ' KiB</td></tr>' +
    '<tr><td>Head hash</td><td class="hash">' + (chain.head ? shortHash(chain.head.content_hash) : '-') + '</td></tr>';
}

async function viewEvidence(id) {
  const res = await fetch('/evidence/' + id);
  const ev = await res.json();
  const detail = document.getElementById('evidence-detail');
  document.getElementById('evidence-empty').style.display = 'none';
  detail.style.display = 'block';
  detail.textContent = ev.report || JSON.stringify(ev.payload, null, 2);
}

async function verifyBlock(id) {
  const res = await fetch('/verify/' + id);
  const v = await res.json();
  alert(v.valid ? id + ': evidence intact'
                : id + ': TAMPER DETECTED: ' + (v.message || 'hash mismatch'));
  refresh();
}

async function verifyChain() {
  const res = await fetch('/verify');
  const v = await res.json();
  const status = document.getElementById('chain-status');
  if (v.valid) {
    status.innerHTML = '<span class="chain-valid">VALID (' + v.checked + ' blocks)</span>';
  } else {
    status.innerHTML = '<span class="chain-broken">BROKEN at seq ' + v.broken_at + '</span>';
  }
  refresh();
}

function feedLine(html) {
  const feed = document.getElementById('live-feed');
  const div = document.createElement('div');
  div.className = 'feed-entry';
  div.innerHTML = html;
  feed.insertBefore(div, feed.firstChild);
  while (feed.children.length > 100) feed.removeChild(feed.lastChild);
}

function connectWS() {
  const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
  const ws = new WebSocket(proto + '//' + location.host + '/dashboard/ws');
  ws.onopen = function() {
    document.getElementById('live-feed').innerHTML = '';
    feedLine('Connected — waiting for captures');
  };
  ws.onmessage = function(e) {
    try {
      const msg = JSON.parse(e.data);
      if (msg.event === 'capture' && msg.block) {
        const b = msg.block;
        feedLine('[' + esc(b.ts) + '] sealed ' + esc(b.id) + ' type=' + esc(b.type) +
          ' hash=<span class="hash">' + shortHash(b.content_hash) + '</span>');
        refresh();
      }
    } catch(err) { console.error('ws parse error:', err); }
  };
  ws.onclose = function() { setTimeout(connectWS, 3000); };
  ws.onerror = function() { ws.close(); };
}

refresh();
setInterval(refresh, 30000);
connectWS();
</script>
</body>
</html>`
