// Package registry announces the echo listener in a nacos naming service.
package registry

import (
	"net"
	"net/url"
	"path/filepath"
	"strconv"

	"github.com/ansel1/merry"
	"github.com/mitchellh/go-homedir"
	"github.com/nacos-group/nacos-sdk-go/clients"
	"github.com/nacos-group/nacos-sdk-go/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/common/constant"
	"github.com/nacos-group/nacos-sdk-go/vo"
	"github.com/tommy351/reqecho/pkg/config"
)

// Instance is the address announced to the registry.
type Instance struct {
	IP       string
	Port     uint64
	Metadata map[string]string
}

type Registry interface {
	Register(ins *Instance) error
	Deregister(ins *Instance) error
}

type nacosRegistry struct {
	config *config.RegistryConfig
	client naming_client.INamingClient
}

func NewNacos(conf *config.RegistryConfig) (Registry, error) {
	servers, err := ServerConfigs(conf.Servers)

	if err != nil {
		return nil, err
	}

	cacheDir, err := homedir.Expand(conf.CacheDir)

	if err != nil {
		return nil, merry.Wrap(err)
	}

	client, err := clients.NewNamingClient(vo.NacosClientParam{
		ClientConfig: &constant.ClientConfig{
			NamespaceId:         conf.Namespace,
			TimeoutMs:           uint64(conf.Timeout.Milliseconds()),
			NotLoadCacheAtStart: true,
			LogDir:              filepath.Join(cacheDir, "log"),
			CacheDir:            filepath.Join(cacheDir, "cache"),
			LogLevel:            "warn",
		},
		ServerConfigs: servers,
	})

	if err != nil {
		return nil, merry.Wrap(err)
	}

	return &nacosRegistry{config: conf, client: client}, nil
}

// ServerConfigs parses nacos server URLs such as http://nacos:8848/nacos.
func ServerConfigs(rawURLs []string) ([]constant.ServerConfig, error) {
	var out []constant.ServerConfig

	for _, raw := range rawURLs {
		u, err := url.Parse(raw)

		if err != nil {
			return nil, merry.Wrap(err).WithValue("url", raw)
		}

		if u.Hostname() == "" {
			return nil, merry.Errorf("nacos server %q has no host", raw)
		}

		port := uint64(8848)

		if p := u.Port(); p != "" {
			if port, err = strconv.ParseUint(p, 10, 16); err != nil {
				return nil, merry.Wrap(err).WithValue("url", raw)
			}
		}

		scheme := u.Scheme

		if scheme == "" {
			scheme = "http"
		}

		contextPath := u.Path

		if contextPath == "" {
			contextPath = "/nacos"
		}

		out = append(out, constant.ServerConfig{
			Scheme:      scheme,
			IpAddr:      u.Hostname(),
			Port:        port,
			ContextPath: contextPath,
		})
	}

	if len(out) == 0 {
		return nil, merry.New("no nacos servers configured")
	}

	return out, nil
}

func (r *nacosRegistry) Register(ins *Instance) error {
	ok, err := r.client.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          ins.IP,
		Port:        ins.Port,
		ServiceName: r.config.ServiceName,
		GroupName:   r.config.GroupName,
		ClusterName: r.config.ClusterName,
		Weight:      1,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		Metadata:    ins.Metadata,
	})

	if err != nil {
		return merry.Wrap(err)
	}

	if !ok {
		return merry.Errorf("nacos refused to register %s:%d", ins.IP, ins.Port)
	}

	return nil
}

func (r *nacosRegistry) Deregister(ins *Instance) error {
	_, err := r.client.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          ins.IP,
		Port:        ins.Port,
		ServiceName: r.config.ServiceName,
		GroupName:   r.config.GroupName,
		Cluster:     r.config.ClusterName,
		Ephemeral:   true,
	})

	return merry.Wrap(err)
}

// InstanceFromAddr builds an instance from a bound listener address. An
// unspecified host is replaced by the first non-loopback interface address.
func InstanceFromAddr(addr net.Addr, hostname string) (*Instance, error) {
	host, portStr, err := net.SplitHostPort(addr.String())

	if err != nil {
		return nil, merry.Wrap(err)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)

	if err != nil {
		return nil, merry.Wrap(err)
	}

	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		if host, err = outboundIP(); err != nil {
			return nil, err
		}
	}

	return &Instance{
		IP:   host,
		Port: port,
		Metadata: map[string]string{
			"hostname": hostname,
		},
	}, nil
}

func outboundIP() (string, error) {
	addrs, err := net.InterfaceAddrs()

	if err != nil {
		return "", merry.Wrap(err)
	}

	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String(), nil
		}
	}

	return "", merry.New("no usable interface address")
}
