package extract

// ResourceScript is evaluated inside the loaded page. It enumerates image
// sources (src, srcset candidates, picture sources, inline-style url()
// references), external and inline stylesheets, scripts, and the favicon.
// data: URLs are skipped; srcset descriptors are dropped here because the
// candidates are downloaded individually.
const ResourceScript = `(() => {
	const images = [];
	const pushURL = (list, value) => {
		if (!value) return;
		const v = value.trim();
		if (!v || v.startsWith("data:")) return;
		list.push(v);
	};
	const pushSrcset = (srcset) => {
		if (!srcset) return;
		for (const candidate of srcset.split(",")) {
			const parts = candidate.trim().split(/\s+/);
			if (parts.length > 0) pushURL(images, parts[0]);
		}
	};

	for (const img of document.querySelectorAll("img")) {
		pushURL(images, img.getAttribute("src"));
		pushSrcset(img.getAttribute("srcset"));
	}
	for (const source of document.querySelectorAll("picture > source[srcset]")) {
		pushSrcset(source.getAttribute("srcset"));
	}
	const urlPattern = /url\(\s*['"]?([^'")]+)['"]?\s*\)/g;
	for (const el of document.querySelectorAll("[style]")) {
		const style = el.getAttribute("style") || "";
		if (!style.includes("url(")) continue;
		let match;
		while ((match = urlPattern.exec(style)) !== null) {
			pushURL(images, match[1]);
		}
	}

	const stylesheets = [];
	for (const link of document.querySelectorAll("link[rel=\"stylesheet\"]")) {
		pushURL(stylesheets, link.href);
	}
	const inlineStyles = [];
	let styleIndex = 0;
	for (const style of document.querySelectorAll("style")) {
		inlineStyles.push({ content: style.textContent || "", index: styleIndex });
		styleIndex++;
	}

	const scripts = [];
	for (const script of document.querySelectorAll("script[src]")) {
		pushURL(scripts, script.src);
	}

	let favicon = "";
	const iconLink = document.querySelector("link[rel*=\"icon\"]");
	if (iconLink && iconLink.href && !iconLink.href.startsWith("data:")) {
		favicon = iconLink.href;
	}

	return {
		images: images,
		stylesheets: stylesheets,
		inlineStyles: inlineStyles,
		scripts: scripts,
		favicon: favicon,
	};
})()`
