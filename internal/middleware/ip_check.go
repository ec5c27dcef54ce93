package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminIPWhitelist restricts the back-office routes to the configured
// addresses. Entries may be single IPs or CIDR ranges; an empty list leaves
// the group open (JWT auth still applies).
func AdminIPWhitelist(allowed []string) gin.HandlerFunc {
	if len(allowed) == 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	var nets []*net.IPNet
	var addrs []net.IP
	for _, item := range allowed {
		if strings.Contains(item, "/") {
			if _, network, err := net.ParseCIDR(item); err == nil {
				nets = append(nets, network)
			}
			continue
		}
		if ip := net.ParseIP(item); ip != nil {
			addrs = append(addrs, ip)
		}
	}
	return func(c *gin.Context) {
		clientIP := net.ParseIP(c.ClientIP())
		if clientIP != nil {
			for _, allowedIP := range addrs {
				if allowedIP.Equal(clientIP) {
					c.Next()
					return
				}
			}
			for _, network := range nets {
				if network.Contains(clientIP) {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "ip not allowed"})
	}
}
