package api

const eventsDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Run Events · snapcheck</title>
  <style>
    body {
      margin: 0;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
      font-size: 14px;
      line-height: 1.6;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    nav {
      background: #161b22;
      border-bottom: 1px solid #30363d;
      padding: 12px 24px;
      display: flex;
      gap: 16px;
    }
    nav .brand { font-weight: 600; color: #e6edf3; }
    main { max-width: 860px; margin: 0 auto; padding: 24px; }
    h1, h2 { color: #e6edf3; }
    h2 { border-bottom: 1px solid #21262d; padding-bottom: 6px; margin-top: 32px; }
    code, pre { font-family: "SFMono-Regular", Consolas, Menlo, monospace; font-size: 13px; }
    pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 12px 16px; overflow-x: auto; }
    table { border-collapse: collapse; width: 100%; margin-bottom: 16px; }
    th, td { border: 1px solid #30363d; padding: 6px 10px; text-align: left; vertical-align: top; }
    th { background: #161b22; color: #e6edf3; }
  </style>
</head>
<body>

<nav>
  <span class="brand">snapcheck</span>
  <span>Run Events</span>
  <a href="/docs">REST API Docs</a>
</nav>

<main>
  <h1>Run Events</h1>
  <p>
    Run progress is streamed as Server-Sent Events. A client sees each scenario
    result as soon as it is recorded, every matched network exchange, and the run
    status changes.
  </p>

  <h2 id="endpoint">Endpoint</h2>
  <pre><code>GET /api/v1/runs/events</code></pre>
  <table>
    <thead><tr><th>Query</th><th>Description</th></tr></thead>
    <tbody>
      <tr><td><code>feeds</code></td><td>Comma-separated feeds to receive. Omit for all. Example: <code>?feeds=run,scenario</code></td></tr>
      <tr><td><code>run_id</code></td><td>Only events of this run.</td></tr>
    </tbody>
  </table>

  <h2 id="feeds">Feeds</h2>
  <table>
    <thead><tr><th>Feed</th><th>Payload <code>data</code></th></tr></thead>
    <tbody>
      <tr><td><code>run</code></td><td>Status changes: <code>{"status":"running","url":...}</code>, then the final status with the summary or error.</td></tr>
      <tr><td><code>scenario</code></td><td>One scenario result: group, name, status, message and artifact id for failures.</td></tr>
      <tr><td><code>exchange</code></td><td>A request/response pair matched by a suite intercept alias.</td></tr>
    </tbody>
  </table>

  <h2 id="format">Event Format</h2>
  <pre><code>id: 12
event: scenario
data: {"run_id":"9f1c...","data":{"group":"autocomplete","name":"shows product results","status":"passed"}}
</code></pre>
  <p>The stream opens with a <code>retry</code> hint and sends a <code>: ping</code> comment every 15 seconds.</p>

  <h2 id="examples">Examples</h2>
  <pre><code>curl -N 'http://127.0.0.1:8190/api/v1/runs/events?feeds=run,scenario'</code></pre>
  <pre><code>const sse = new EventSource('/api/v1/runs/events?feeds=scenario');
sse.addEventListener('scenario', (e) => {
  const { data } = JSON.parse(e.data);
  console.log(data.status, data.group, data.name);
});</code></pre>

  <h2 id="notes">Notes</h2>
  <ul>
    <li>Each subscriber buffers 256 events. Slow clients miss events rather than stall a run.</li>
    <li>The endpoint has no authentication. Keep the server bound to <code>127.0.0.1</code>.</li>
  </ul>
</main>

</body>
</html>`
