// Package crawler discovers the same-origin pages of a site with a
// breadth-first walk, capping families of dynamic routes so paginated or
// id-based sections do not dominate the crawl.
package crawler
