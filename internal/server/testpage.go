package server

import (
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"
)

// The diagnostic upload UI is self-contained: no external CDN, inline style
// and script carry the per-request CSP nonce.
var testPageTmpl = template.Must(template.New("test").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Image Upload Test</title>
<style nonce="{{.Nonce}}">
body { font-family: system-ui, -apple-system, "Segoe UI", Roboto, "Helvetica Neue", Arial; margin: 24px; }
h1 { font-size: 28px; }
.container { max-width: 900px; }
.row { margin: 12px 0; }
input[type="text"] { width: 320px; padding: 6px; }
button { padding: 10px 18px; border-radius: 6px; border: 1px solid #ddd; background:#2d6cdf; color:#fff; cursor:pointer; }
button:disabled { background:#9eb7e5; cursor:not-allowed; }
#dropzone { border:2px dashed #ccc; padding:20px; border-radius:8px; color:#333; }
#result { margin-top:16px; padding:12px; border-radius:8px; background:#e7f7ea; display:none; }
#error { margin-top:16px; padding:12px; border-radius:8px; background:#fdecea; color:#b00020; display:none; }
.preview { margin-top:10px; max-width:300px; border:1px solid #ddd; border-radius:6px; }
label { display:block; font-weight:600; margin-bottom:6px; }
.small { color:#555; font-size: 12px; }
</style>
</head>
<body>
<div class="container">
  <h1>Image Upload Test</h1>

  <div class="row">
    <label>Bucket:</label>
    <input id="bucket" type="text" value="{{.Bucket}}">
  </div>
  <div class="row">
    <label>Folder (optional):</label>
    <input id="folder" type="text" placeholder="e.g. avatars, uploads">
  </div>

  <div id="dropzone" class="row">
    Drop an image here, or pick one below.
    <div class="row">
      <input id="file" type="file" accept="image/*">
    </div>
    <div id="picked" class="small"></div>
    <img id="preview" class="preview" hidden>
  </div>

  <div class="row">
    <button id="uploadBtn" disabled>Upload</button>
  </div>

  <div id="result"></div>
  <div id="error"></div>
</div>

<script nonce="{{.Nonce}}">
(() => {
  const fileInput = document.getElementById('file');
  const dropzone = document.getElementById('dropzone');
  const uploadBtn = document.getElementById('uploadBtn');
  const picked = document.getElementById('picked');
  const preview = document.getElementById('preview');
  const bucket = document.getElementById('bucket');
  const folder = document.getElementById('folder');
  const result = document.getElementById('result');
  const errorBox = document.getElementById('error');

  let currentFile = null;

  function resetMessages() {
    result.style.display = 'none';
    result.innerText = '';
    errorBox.style.display = 'none';
    errorBox.innerText = '';
  }

  function onPicked(file) {
    currentFile = file;
    picked.innerText = file ? 'Selected: ' + file.name + ' (' + (file.size / 1024).toFixed(1) + ' KB)' : '';
    uploadBtn.disabled = !file;
    if (file) {
      preview.src = URL.createObjectURL(file);
      preview.hidden = false;
    } else {
      preview.hidden = true;
    }
  }

  fileInput.addEventListener('change', (e) => {
    resetMessages();
    onPicked(e.target.files[0]);
  });

  dropzone.addEventListener('dragover', (e) => e.preventDefault());
  dropzone.addEventListener('drop', (e) => {
    e.preventDefault();
    resetMessages();
    if (e.dataTransfer.files && e.dataTransfer.files[0]) {
      onPicked(e.dataTransfer.files[0]);
    }
  });

  uploadBtn.addEventListener('click', async () => {
    resetMessages();
    if (!currentFile) return;

    const form = new FormData();
    form.append('file', currentFile);
    if (bucket.value) form.append('bucket', bucket.value);
    if (folder.value) form.append('folder', folder.value);

    try {
      const res = await fetch('/upload', { method: 'POST', body: form });
      const data = await res.json();
      if (!res.ok || data.error) {
        throw new Error(data.error || 'upload failed');
      }

      result.style.display = 'block';
      result.innerHTML =
        'Upload complete<br>' +
        'Object: <b>' + data.data.object_name + '</b><br>' +
        'Bucket: <b>' + data.data.bucket + '</b><br>' +
        'Proxy URL: <a href="' + data.data.proxy_url + '" target="_blank">' + data.data.proxy_url + '</a><br>' +
        'Size: ' + data.data.file_size + ' bytes<br>' +
        'embedding_saved: <b>' + data.data.embedding_saved + '</b>' +
        '<div><img src="' + data.data.proxy_url + '" class="preview"></div>';
    } catch (err) {
      errorBox.style.display = 'block';
      errorBox.innerText = 'Error: ' + err.message;
    }
  });
})();
</script>
</body>
</html>`))

// TestPage handles GET /test with the self-contained diagnostic upload UI.
func (h *Handler) TestPage(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return testPageTmpl.Execute(c.Response(), map[string]string{
		"Nonce":  requestNonce(c),
		"Bucket": h.cfg.Storage.Bucket,
	})
}
