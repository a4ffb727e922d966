package handlers

// panelHTML is the static page GET / serves — a thin client that
// subscribes to /events, polls /health, and has pause/unpause buttons. It
// does not poll /render_job or post to /annotated. It ships with the
// binary rather than as a separate asset pipeline, matching the scale of
// the rest of the surface.
const panelHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>engine panel</title>
<style>
body { font-family: monospace; margin: 2rem; background: #111; color: #ddd; }
#log { white-space: pre-wrap; border: 1px solid #444; padding: 1rem; height: 60vh; overflow-y: scroll; }
button { margin-right: 0.5rem; }
</style>
</head>
<body>
<h1>engine panel</h1>
<div>
  <button onclick="fetch('/pause', {method:'POST'})">pause</button>
  <button onclick="fetch('/unpause', {method:'POST'})">unpause</button>
  <span id="status"></span>
</div>
<div id="log"></div>
<script>
const log = document.getElementById('log');
const status = document.getElementById('status');

function append(turn) {
  const line = JSON.stringify(turn);
  log.textContent += line + "\n";
  log.scrollTop = log.scrollHeight;
}

const es = new EventSource('/events?replay=20');
es.onmessage = (e) => { append(JSON.parse(e.data)); };

setInterval(async () => {
  const r = await fetch('/health');
  const h = await r.json();
  status.textContent = 'paused=' + h.paused + ' last_seq=' + h.last_seq;
}, 2000);
</script>
</body>
</html>
`
