package main

// webUIPage is the static single-page UI served at GET /{url-path}, per
// spec.md §6. It offers a source-picker form and an <img>/<video> tag that
// re-points itself at /{url-path}/stream with the chosen query parameters —
// intentionally minimal, since the spec treats the web UI as a thin,
// conventional collaborator out of core scope (§1).
const webUIPage = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>kamkast</title>
  <style>
    body { font-family: system-ui, sans-serif; margin: 2rem; background: #111; color: #eee; }
    label { display: block; margin-top: 0.75rem; }
    select, input, button { font-size: 1rem; padding: 0.25rem; }
    video { margin-top: 1.5rem; max-width: 100%; background: #000; }
  </style>
</head>
<body>
  <h1>kamkast</h1>
  <form id="stream-form">
    <label>Stream format
      <select name="stream-format">
        <option value="mp4">MP4 (fragmented)</option>
        <option value="mpegts">MPEG-TS</option>
        <option value="mp3">MP3 (audio only)</option>
      </select>
    </label>
    <label>Video source <input name="video-source" placeholder="off, test, cam-017, ..."></label>
    <label>Audio source <input name="audio-source" placeholder="off, playback, mic-042, ..."></label>
    <label>Audio volume <input name="audio-volume" type="number" step="0.1" min="0" max="10" value="1.0"></label>
    <button type="submit">Start</button>
  </form>
  <video id="player" controls autoplay></video>
  <script>
    document.getElementById('stream-form').addEventListener('submit', function (ev) {
      ev.preventDefault();
      var params = new URLSearchParams(new FormData(ev.target));
      document.getElementById('player').src = 'stream?' + params.toString();
    });
  </script>
</body>
</html>
`
