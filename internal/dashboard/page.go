package dashboard

import "net/http"

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>atwf dashboard</title>
<style>
  :root {
    --bg: #0d1117; --surface: #161b22; --border: #30363d;
    --text: #e6edf3; --text-dim: #8b949e;
    --accent: #58a6ff; --green: #3fb950; --yellow: #d29922; --red: #f85149;
  }
  * { box-sizing: border-box; margin: 0; padding: 0; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Helvetica, Arial, sans-serif;
    background: var(--bg); color: var(--text); font-size: 14px; line-height: 1.5; padding: 16px;
  }
  header { display: flex; align-items: center; justify-content: space-between; margin-bottom: 16px;
    padding-bottom: 12px; border-bottom: 1px solid var(--border); }
  header h1 { font-size: 20px; font-weight: 600; }
  header h1 span { color: var(--accent); }
  .meta { font-size: 12px; color: var(--text-dim); }
  .grid { display: grid; grid-template-columns: 1fr 1fr; gap: 16px; }
  @media (max-width: 900px) { .grid { grid-template-columns: 1fr; } }
  .card { background: var(--surface); border: 1px solid var(--border); border-radius: 8px; overflow: hidden; }
  .card-header { padding: 10px 14px; border-bottom: 1px solid var(--border); font-weight: 600;
    font-size: 13px; text-transform: uppercase; letter-spacing: 0.5px; color: var(--text-dim); }
  .full-width { grid-column: 1 / -1; }
  table { width: 100%; border-collapse: collapse; font-size: 13px; }
  td, th { padding: 8px 14px; text-align: left; border-bottom: 1px solid var(--border); }
  th { color: var(--text-dim); font-weight: 500; }
  .dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-right: 6px; }
  .dot.working { background: var(--accent); }
  .dot.idle { background: var(--text-dim); }
  .dot.draining { background: var(--yellow); }
  .badge { font-size: 11px; padding: 1px 6px; border-radius: 10px; background: var(--border); color: var(--text-dim); }
  .badge.open { background: var(--yellow); color: #000; }
  .badge.done { background: var(--green); color: #000; }
  .badge.timed_out { background: var(--red); color: #000; }
  .empty { padding: 14px; color: var(--text-dim); font-size: 13px; }
</style>
</head>
<body>
<header>
  <h1>atwf <span>dashboard</span></h1>
  <div class="meta" id="meta">loading...</div>
</header>
<div class="grid">
  <div class="card full-width">
    <div class="card-header">Workers</div>
    <div id="members"></div>
  </div>
  <div class="card">
    <div class="card-header">Requests</div>
    <div id="requests"></div>
  </div>
  <div class="card">
    <div class="card-header">Drive</div>
    <div id="drive"></div>
  </div>
</div>
<script>
async function refresh() {
  const res = await fetch('/api/state');
  const s = await res.json();
  document.getElementById('meta').textContent =
    (s.paused ? 'PAUSED · ' : 'live · ') + s.team_dir + ' · ' + s.timestamp;

  const members = s.members || [];
  document.getElementById('members').innerHTML = members.length ? ('<table><tr><th>Worker</th><th>Role</th><th>Status</th><th>Parent</th><th>Unread</th></tr>' +
    members.map(m => '<tr><td>' + m.full + '</td><td>' + m.role + '</td><td><span class="dot ' + m.status + '"></span>' + m.status +
      '</td><td>' + (m.parent || '-') + '</td><td>' + m.unread + (m.overflow ? ' (+' + m.overflow + ' overflow)' : '') + '</td></tr>').join('') +
    '</table>') : '<div class="empty">no workers registered</div>';

  const reqs = s.requests || [];
  document.getElementById('requests').innerHTML = reqs.length ? ('<table><tr><th>Topic</th><th>Status</th><th>Replies</th><th>Deadline</th></tr>' +
    reqs.map(r => '<tr><td>' + r.topic + '</td><td><span class="badge ' + r.status + '">' + r.status + '</span></td><td>' +
      r.replied_count + '/' + r.target_count + '</td><td>' + r.deadline + '</td></tr>').join('') + '</table>') :
    '<div class="empty">no requests</div>';

  const d = s.drive || {};
  document.getElementById('drive').innerHTML = '<table><tr><td>Mode</td><td>' + (d.mode || '-') + '</td></tr>' +
    '<tr><td>Last triggered</td><td>' + (d.last_triggered_age || 'never') + '</td></tr>' +
    '<tr><td>Last reason</td><td>' + (d.last_reason || '-') + '</td></tr></table>';
}
refresh();
setInterval(refresh, 3000);
</script>
</body>
</html>`
