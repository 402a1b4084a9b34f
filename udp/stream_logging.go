package udp

func (s *Stream) log(format string, v ...interface{}) {
	args := make([]interface{}, 0, len(v)+1)
	args = append(args, s)
	args = append(args, v...)
	s.cfg.Logger.Printf("[%p] "+format, args...)
}
