package swapper

import (
	"context"
	"fmt"
	"time"

	"github.com/mosaicnetworks/convoy/src/cluster"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// EtcdFailedFetchLock implements FailedFetchLock on an etcd cluster, for
// deployments where push processes have no shared filesystem. The mutex is
// lease backed, so a crashed holder's lock expires with its session
// instead of wedging every other push process. Registry records are plain
// keys under a per-cluster prefix and survive the session.
type EtcdFailedFetchLock struct {
	client  *clientv3.Client
	session *concurrency.Session
	mutex   *concurrency.Mutex

	registryPrefix string
	timeout        time.Duration
	logger         *logrus.Entry
}

// NewEtcdFailedFetchLock connects to etcd at endpoints and prepares the
// lock. The clusterURL is sanitized into a key token so each cluster gets
// its own mutex and registry prefix.
func NewEtcdFailedFetchLock(endpoints []string, clusterURL string, timeout time.Duration, logger *logrus.Entry) (*EtcdFailedFetchLock, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	clusterID, err := cluster.SanitizeURL(clusterURL)
	if err != nil {
		return nil, err
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	session, err := concurrency.NewSession(cli)
	if err != nil {
		cli.Close()
		return nil, err
	}

	return &EtcdFailedFetchLock{
		client:         cli,
		session:        session,
		mutex:          concurrency.NewMutex(session, "/convoy/"+clusterID+"/lock"),
		registryPrefix: "/convoy/" + clusterID + "/disabled/",
		timeout:        timeout,
		logger:         logger.WithField("cluster_id", clusterID),
	}, nil
}

func (e *EtcdFailedFetchLock) AcquireLock() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	if err := e.mutex.Lock(ctx); err != nil {
		return fmt.Errorf("acquiring etcd lock: %v", err)
	}
	return nil
}

func (e *EtcdFailedFetchLock) ReleaseLock() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	return e.mutex.Unlock(ctx)
}

func (e *EtcdFailedFetchLock) GetDisabledNodes() (map[int]bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	resp, err := e.client.Get(ctx, e.registryPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	nodes := make(map[int]bool, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		record := new(DisabledNodeRecord)
		if err := codec.NewDecoderBytes(kv.Value, jsonHandle).Decode(record); err != nil {
			return nil, err
		}
		nodes[record.NodeID] = true
	}

	return nodes, nil
}

func (e *EtcdFailedFetchLock) AddDisabledNode(nodeID int, storeName string, storeVersion int64, details string) error {
	record := DisabledNodeRecord{
		NodeID:       nodeID,
		StoreName:    storeName,
		StoreVersion: storeVersion,
		Details:      details,
		Time:         time.Now().UTC(),
	}

	var buf []byte
	if err := codec.NewEncoderBytes(&buf, jsonHandle).Encode(record); err != nil {
		return err
	}

	key := fmt.Sprintf("%s%d_%s_%d", e.registryPrefix, nodeID, storeName, storeVersion)

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	_, err := e.client.Put(ctx, key, string(buf))
	return err
}

func (e *EtcdFailedFetchLock) Close() error {
	e.session.Close()
	return e.client.Close()
}
