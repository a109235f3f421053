package archive

import (
	"os/user"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

const ownerCacheSize = 256

// ownerCache maps numeric uid/gid values to names for tar headers. Failed
// lookups are cached as "".
type ownerCache struct {
	users  *lru.Cache[int, string]
	groups *lru.Cache[int, string]

	lookupUser  func(uid string) (string, error)
	lookupGroup func(gid string) (string, error)
}

func newOwnerCache() *ownerCache {
	users, err := lru.New[int, string](ownerCacheSize)
	if err != nil {
		panic(err)
	}
	groups, err := lru.New[int, string](ownerCacheSize)
	if err != nil {
		panic(err)
	}
	return &ownerCache{
		users:  users,
		groups: groups,
		lookupUser: func(uid string) (string, error) {
			u, err := user.LookupId(uid)
			if err != nil {
				return "", err
			}
			return u.Username, nil
		},
		lookupGroup: func(gid string) (string, error) {
			g, err := user.LookupGroupId(gid)
			if err != nil {
				return "", err
			}
			return g.Name, nil
		},
	}
}

func cachedLookup(c *lru.Cache[int, string], id int, lookup func(string) (string, error)) string {
	if name, ok := c.Get(id); ok {
		return name
	}
	name, err := lookup(strconv.Itoa(id))
	if err != nil {
		name = ""
	}
	c.Add(id, name)
	return name
}

func (c *ownerCache) UserName(uid int) string {
	return cachedLookup(c.users, uid, c.lookupUser)
}

func (c *ownerCache) GroupName(gid int) string {
	return cachedLookup(c.groups, gid, c.lookupGroup)
}
