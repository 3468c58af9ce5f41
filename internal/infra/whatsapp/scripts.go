package whatsapp

// Selectors for the WhatsApp Web DOM
const (
	selChatList    = `[data-testid="chat-list"]`
	selSearchBox   = `div[contenteditable="true"][data-tab="3"]`
	selMessageBox  = `div[contenteditable="true"][data-tab="10"]`
	phoneOfflineJS = `() => document.body.innerText.includes("Phone not connected")`
)

// scanChatsJS returns a JSON array of chat list rows that carry an unread
// badge or a bold title.
const scanChatsJS = `(limit) => {
	let rows = document.querySelectorAll('div[role="listitem"]');
	if (rows.length === 0) rows = document.querySelectorAll('[data-testid="chat"]');
	const out = [];
	for (const row of rows) {
		if (limit > 0 && out.length >= limit) break;
		const badge = row.querySelector('span[data-testid="icon-unread"], span[aria-label*="unread"]');
		const title = row.querySelector('span[dir="auto"][title]');
		if (!title) continue;
		let bold = false;
		const strong = row.querySelector('span[title][dir="auto"]');
		if (strong) {
			const w = parseInt(window.getComputedStyle(strong).fontWeight, 10);
			bold = w >= 600;
		}
		if (!badge && !bold) continue;
		const preview = row.querySelector('span[dir="ltr"]');
		let sender = "";
		const author = row.querySelector('span[data-testid="last-msg-author"], span[dir="auto"][class*="author"]');
		if (author) sender = author.innerText.replace(/:\s*$/, "");
		out.push({
			name: title.getAttribute("title") || "",
			preview: preview ? preview.innerText : "",
			sender: sender,
			unread: badge ? (parseInt(badge.innerText, 10) || 1) : 1,
			bold: bold,
		});
	}
	return JSON.stringify(out);
}`

// readMessagesJS returns a JSON array of the last message bubbles of the
// open conversation, oldest first.
const readMessagesJS = `(limit) => {
	const panel = document.querySelector('[data-testid="conversation-panel-messages"]');
	if (!panel) return "[]";
	let bubbles = Array.from(panel.querySelectorAll('div[data-testid="msg-container"]'));
	if (limit > 0 && bubbles.length > limit) bubbles = bubbles.slice(bubbles.length - limit);
	const kindOf = (b) => {
		if (b.querySelector('[data-icon="audio-play"], [data-icon="ptt-status"]')) return "audio";
		if (b.querySelector('[data-icon="media-play"], video')) return "video";
		if (b.querySelector('[data-icon="document"], [data-testid="document-thumb"]')) return "document";
		if (b.querySelector('[data-testid="sticker"]')) return "sticker";
		if (b.querySelector('[data-icon="location"], a[href*="maps"]')) return "location";
		if (b.querySelector('[data-testid="vcard"]')) return "contact";
		if (b.querySelector('img[src^="blob:"]')) return "image";
		return "text";
	};
	return JSON.stringify(bubbles.map((b) => {
		const holder = b.closest('[data-id]');
		const row = b.closest('[class*="message-"]') || b;
		const text = b.querySelector('span.selectable-text');
		const time = b.querySelector('span[data-testid="msg-time"]');
		const sender = b.querySelector('span[dir="auto"][role="button"]');
		return {
			id: holder ? holder.getAttribute("data-id") : "",
			sender: sender ? sender.innerText : "",
			text: text ? text.innerText : "",
			time: time ? time.innerText : "",
			outgoing: (row.className || "").includes("message-out"),
			kind: kindOf(b),
		};
	}));
}`
