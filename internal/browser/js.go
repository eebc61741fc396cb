package browser

// metaTagsJS collects meta tag name/property -> content pairs from the page.
// Tags without a content value are skipped.
const metaTagsJS = `(() => {
	const out = {};
	for (const el of document.querySelectorAll('meta')) {
		const key = el.getAttribute('name') || el.getAttribute('property');
		const content = el.getAttribute('content');
		if (key && content) {
			out[key] = content;
		}
	}
	return out;
})()`

// userAgentJS reports the browser identity, used by the doctor probe.
const userAgentJS = `navigator.userAgent`
