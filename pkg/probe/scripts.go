package probe

// Page scripts evaluated by the prober. Each is a function expression; the
// ones taking a parameter receive it as Evaluate's arg.
const (
	// ImagesScript lists every image with its load state.
	ImagesScript = `() => Array.from(document.images).map(img => ({
	src: img.currentSrc || img.src || img.getAttribute('src') || '',
	complete: img.complete,
	naturalWidth: img.naturalWidth
}))`

	// FontCheckScript asks the font-matching state whether family is available at 16px.
	FontCheckScript = `(family) => document.fonts.check('16px "' + family + '"')`

	// LayoutShiftScript sums layout-shift values not caused by recent input,
	// observed for waitMs plus a 100ms flush window.
	LayoutShiftScript = `(waitMs) => new Promise((resolve) => {
	let cls = 0;
	const add = (entries) => {
		for (const entry of entries) {
			if (!entry.hadRecentInput) cls += entry.value;
		}
	};
	let observer;
	try {
		observer = new PerformanceObserver((list) => add(list.getEntries()));
		observer.observe({ type: 'layout-shift', buffered: true });
	} catch (e) {
		resolve(0);
		return;
	}
	setTimeout(() => {
		setTimeout(() => {
			add(observer.takeRecords());
			observer.disconnect();
			resolve(cls);
		}, 100);
	}, waitMs);
})`

	// ComputedStylesScript returns selected computed properties of the first
	// match, or null when nothing matches.
	ComputedStylesScript = `(selector) => {
	const el = document.querySelector(selector);
	if (!el) return null;
	const s = window.getComputedStyle(el);
	return {
		display: s.display,
		visibility: s.visibility,
		opacity: s.opacity,
		color: s.color,
		fontSize: s.fontSize,
		fontFamily: s.fontFamily,
		backgroundColor: s.backgroundColor
	};
}`

	// PerformanceScript reads Navigation Timing and paint entries in milliseconds.
	PerformanceScript = `() => {
	const nav = performance.getEntriesByType('navigation')[0];
	const fcp = performance.getEntriesByName('first-contentful-paint')[0];
	return {
		domContentLoaded: nav ? nav.domContentLoadedEventEnd - nav.domContentLoadedEventStart : 0,
		loadComplete: nav ? nav.loadEventEnd - nav.loadEventStart : 0,
		firstContentfulPaint: fcp ? fcp.startTime : 0,
		loadTime: nav ? nav.loadEventEnd - nav.startTime : 0
	};
}`
)
