package viewer

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Penalty Posture Viewer</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/viewer.css">
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; }
        .app { max-width: 1100px; margin: 0 auto; padding: 16px; }
        .header { display: flex; gap: 12px; align-items: center; margin-bottom: 12px; }
        .badge { padding: 2px 8px; border-radius: 4px; background: #333; font-size: 12px; }
        .badge.error { background: #a33; }
        #stage { position: relative; background: #000; }
        #video { width: 100%; display: block; }
        #overlay { position: absolute; top: 0; left: 0; width: 100%; height: 100%; pointer-events: none; }
        .controls { display: flex; gap: 8px; align-items: center; margin-top: 8px; flex-wrap: wrap; }
        #seek { flex: 1; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <button type="button" id="btn-back">Back</button>
            <input id="penalty-id" placeholder="Penalty id" size="10">
            <button type="button" id="btn-open">Open</button>
            <span class="badge" id="status-badge">Idle</span>
            <button type="button" id="btn-retry" hidden>Retry</button>
            <span class="badge" id="frame-badge">Frame: -</span>
        </div>

        <div id="stage">
            <video id="video" playsinline crossorigin="anonymous"></video>
            <canvas id="overlay"></canvas>
        </div>

        <div class="controls">
            <button type="button" id="btn-back1">-1s</button>
            <button type="button" id="btn-play">Play</button>
            <button type="button" id="btn-fwd1">+1s</button>
            <input type="range" id="seek" min="0" max="1000" value="0">
            <button type="button" id="btn-slower">-</button>
            <span id="rate">1.00x</span>
            <button type="button" id="btn-faster">+</button>
            <button type="button" id="btn-mute">Mute</button>
            <span id="time">0.00 / 0.00</span>
        </div>
    </div>

    <script>
    (function () {
        const video = document.getElementById('video');
        const canvas = document.getElementById('overlay');
        const ctx = canvas.getContext('2d');
        const badge = document.getElementById('status-badge');
        const frameBadge = document.getElementById('frame-badge');
        const seek = document.getElementById('seek');
        const retry = document.getElementById('btn-retry');
        let sessionId = null;
        let events = null;

        function setStatus(text, isError) {
            badge.textContent = text;
            badge.classList.toggle('error', !!isError);
        }

        async function api(path, body) {
            const opts = body === undefined ? {} : {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify(body),
            };
            const res = await fetch(path, opts);
            const data = await res.json().catch(() => ({}));
            if (!res.ok) {
                const err = new Error(data.error || res.statusText);
                err.step = data.step;
                err.retryable = !!data.retryable;
                throw err;
            }
            return data;
        }

        function control(body) {
            if (!sessionId) return;
            api('/api/sessions/' + sessionId + '/control', body).catch(err => setStatus(err.message, true));
        }

        function draw(event) {
            ctx.clearRect(0, 0, canvas.width, canvas.height);
            frameBadge.textContent = 'Frame: ' + event.frame_index + (event.matched ? '' : ' (no posture)');
            if (!event.matched) return;
            const joints = {};
            for (const j of event.joints) joints[j.joint] = j;
            ctx.lineWidth = 2;
            for (const [from, to] of event.bones) {
                const a = joints[from], b = joints[to];
                if (!a || !b) continue;
                ctx.strokeStyle = a.color;
                ctx.beginPath();
                ctx.moveTo(a.x, a.y);
                ctx.lineTo(b.x, b.y);
                ctx.stroke();
            }
            for (const j of event.joints) {
                ctx.fillStyle = j.color;
                ctx.beginPath();
                ctx.arc(j.x, j.y, j.radius, 0, Math.PI * 2);
                ctx.fill();
                ctx.strokeStyle = '#FFFFFF';
                ctx.beginPath();
                ctx.arc(j.x, j.y, j.radius + 1, 0, Math.PI * 2);
                ctx.stroke();
            }
        }

        function subscribe() {
            if (events) events.close();
            events = new EventSource('/api/sessions/' + sessionId + '/events');
            events.onmessage = (msg) => draw(JSON.parse(msg.data));
            events.onerror = () => setStatus('Event stream interrupted', true);
        }

        async function open(penaltyId) {
            retry.hidden = true;
            setStatus('Loading...');
            try {
                const nav = await api('/api/navigation', {view: 'video-player', param: penaltyId});
                sessionId = nav.session.id;
                video.src = nav.session.video_url;
                subscribe();
                setStatus('Ready');
            } catch (err) {
                setStatus(err.message, true);
                if (err.retryable) {
                    retry.onclick = () => open(penaltyId);
                    retry.hidden = false;
                }
            }
        }

        async function back() {
            try {
                await api('/api/navigation/pop', {});
            } catch (err) {
                setStatus(err.message, true);
                return;
            }
            if (events) events.close();
            events = null;
            sessionId = null;
            video.removeAttribute('src');
            video.load();
            ctx.clearRect(0, 0, canvas.width, canvas.height);
            setStatus('Idle');
        }

        video.addEventListener('loadedmetadata', () => {
            canvas.width = video.videoWidth;
            canvas.height = video.videoHeight;
            api('/api/sessions/' + sessionId + '/metadata', {
                duration: video.duration,
                width: video.videoWidth,
                height: video.videoHeight,
            }).catch(err => setStatus(err.message, true));
        });
        video.addEventListener('play', () => control({action: 'play'}));
        video.addEventListener('pause', () => control({action: 'pause'}));
        video.addEventListener('seeked', () => control({action: 'seek', seconds: video.currentTime}));
        video.addEventListener('ratechange', () => control({action: 'rate', rate: video.playbackRate}));
        video.addEventListener('volumechange', () => control({action: 'mute', muted: video.muted}));
        video.addEventListener('timeupdate', () => {
            document.getElementById('time').textContent =
                video.currentTime.toFixed(2) + ' / ' + (video.duration || 0).toFixed(2);
            if (video.duration) seek.value = Math.round(video.currentTime / video.duration * 1000);
        });

        document.getElementById('btn-open').onclick = () => {
            const id = document.getElementById('penalty-id').value.trim();
            if (id) open(id);
        };
        document.getElementById('btn-back').onclick = back;
        document.getElementById('btn-mute').onclick = () => {
            video.muted = !video.muted;
            document.getElementById('btn-mute').textContent = video.muted ? 'Unmute' : 'Mute';
        };
        document.getElementById('btn-play').onclick = () => video.paused ? video.play() : video.pause();
        document.getElementById('btn-back1').onclick = () => { video.currentTime = Math.max(0, video.currentTime - 1); };
        document.getElementById('btn-fwd1').onclick = () => { video.currentTime = Math.min(video.duration || 0, video.currentTime + 1); };
        document.getElementById('btn-slower').onclick = () => { video.playbackRate = Math.max(0.25, video.playbackRate - 0.25); };
        document.getElementById('btn-faster').onclick = () => { video.playbackRate = Math.min(2, video.playbackRate + 0.25); };
        video.addEventListener('ratechange', () => {
            document.getElementById('rate').textContent = video.playbackRate.toFixed(2) + 'x';
        });
        seek.addEventListener('input', () => {
            if (video.duration) video.currentTime = seek.value / 1000 * video.duration;
        });

        const initial = new URLSearchParams(location.search).get('penalty');
        if (initial) open(initial);
    })();
    </script>
</body>
</html>
`
