package crawler

// frontier is the BFS state of one crawl. A URL is queued at most once and
// enters visited at most once.
type frontier struct {
	queue   []string
	queued  map[string]struct{}
	visited map[string]struct{}
	order   []string
}

func newFrontier() *frontier {
	return &frontier{
		queued:  make(map[string]struct{}),
		visited: make(map[string]struct{}),
	}
}

// push enqueues url unless it was ever queued before.
func (f *frontier) push(url string) bool {
	if url == "" {
		return false
	}
	if _, ok := f.queued[url]; ok {
		return false
	}
	f.queued[url] = struct{}{}
	f.queue = append(f.queue, url)
	return true
}

func (f *frontier) pop() (string, bool) {
	if len(f.queue) == 0 {
		return "", false
	}
	url := f.queue[0]
	f.queue[0] = ""
	f.queue = f.queue[1:]
	return url, true
}

func (f *frontier) markVisited(url string) {
	if _, ok := f.visited[url]; ok {
		return
	}
	f.visited[url] = struct{}{}
	f.order = append(f.order, url)
}

func (f *frontier) isVisited(url string) bool {
	_, ok := f.visited[url]
	return ok
}

func (f *frontier) visitedCount() int {
	return len(f.order)
}

// visitedURLs returns visited URLs in visit order.
func (f *frontier) visitedURLs() []string {
	return append([]string(nil), f.order...)
}
