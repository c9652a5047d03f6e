package builder

// pythonBootstrap is the preface passed to `python3 -c` for the python
// and python3 engine kinds. It reimplements the two-stage evaluation
// contract (prelude/tail split, inspection syntax, plot harvesting,
// history rotation) from the original sdk/engine.py and
// engines/python/interpreter.py over a local JSON/HTTP transport
// instead of XML-RPC. %d is the bound port, %s a Python literal for the
// optional preface source.
const pythonBootstrap = `
import base64, hashlib, io, json, os, re, sys, time, tokenize, traceback
from http.server import BaseHTTPRequestHandler, HTTPServer

_PREFACE = %[2]s
_PORT = %[1]d

_namespace = {}
_index = [0]

def _setup_namespace():
    from time import sleep
    _namespace['sleep'] = sleep
    try:
        import matplotlib
        matplotlib.use('Agg')
    except ImportError:
        pass
    try:
        import pylab
        _namespace.update(pylab.__dict__)
    except ImportError:
        pass

    def mplplot(*args, **kwargs):
        import pylab
        buf = io.BytesIO()
        pylab.plot(*args, **kwargs)
        pylab.savefig(buf, format='png', dpi=80)
        value = buf.getvalue()
        data = base64.b64encode(value).decode('ascii')
        checksum = hashlib.sha1(data.encode('ascii')).hexdigest()
        plots = _namespace.setdefault('__plots__', [])
        plots.append({
            'data': data, 'size': len(value),
            'type': 'image/png', 'encoding': 'base64', 'checksum': checksum,
        })

    _namespace['mplplot'] = mplplot

_setup_namespace()

def _split(source):
    reader = io.StringIO(source).readline
    try:
        tokens = list(tokenize.generate_tokens(reader))
    except (OverflowError, SyntaxError, ValueError):
        return None, source
    for tok in reversed(tokens):
        if tok.type == tokenize.NEWLINE and tok.string:
            n = tok.start[0]
            lines = source.split('\n')
            return '\n'.join(lines[:n]), '\n'.join(lines[n:])
    return None, source

def _is_inspect(source):
    return source.startswith('?') or source.endswith('?')

def _inspect(source):
    text = source
    more = False
    if text.startswith('??'):
        text, more = text[2:], True
    if text.endswith('??'):
        text, more = text[:-2], True
    if not more:
        if text.startswith('?'):
            text = text[1:]
        if text.endswith('?'):
            text = text[:-1]
    text = text.strip()

    name, _, attrs = text.partition('.')
    obj = _namespace.get(name)
    if obj is not None and attrs:
        for attr in attrs.split('.'):
            obj = getattr(obj, attr, None)
            if obj is None:
                break

    info = None
    if obj is not None:
        info = {'type': type(obj).__name__}
        doc = getattr(obj, '__doc__', None)
        if doc:
            info['docstring'] = doc
        if more:
            try:
                info['source'] = inspect_source(obj)
            except Exception:
                pass

    _index[0] += 1
    return {
        'source': source, 'index': _index[0], 'time': 0.0,
        'out': '', 'err': '', 'memory': _rss(), 'plots': [],
        'traceback': False, 'interrupted': False,
        'info': info, 'more': more,
    }

def inspect_source(obj):
    import inspect as _inspect_mod
    return _inspect_mod.getsource(obj)

def _rss():
    try:
        import resource
        return resource.getrusage(resource.RUSAGE_SELF).ru_maxrss * 1024
    except Exception:
        return 0

def _complete(source):
    import rlcompleter
    completer = rlcompleter.Completer(_namespace)
    matches = set()
    state = 0
    try:
        while True:
            result = completer.complete(source, state)
            if result is None:
                break
            matches.add(result)
            state += 1
    except KeyboardInterrupt:
        return {'completions': None, 'interrupted': True, 'source': source}

    completions = []
    for match in sorted(matches):
        if match.endswith('('):
            match = match[:-1]
        name, _, attrs = match.partition('.')
        obj = _namespace.get(name)
        if obj is not None and attrs:
            for attr in attrs.split('.'):
                obj = getattr(obj, attr, None)
        if obj is not None:
            info = {'type': type(obj).__name__}
        else:
            info = {'type': 'keyword'}
        completions.append({'match': match, 'info': info})

    return {'completions': completions, 'interrupted': False, 'source': source}

def _evaluate(source):
    stripped = source.replace('\r', '').rstrip()

    if '\n' in stripped:
        exec_source, eval_source = _split(stripped)
    else:
        exec_source, eval_source = None, stripped

    eval_source_code = (eval_source or '') + '\n'

    try:
        compile(eval_source_code, '<evalgw>', 'eval')
    except (OverflowError, SyntaxError, ValueError):
        if '\n' not in stripped and _is_inspect(stripped):
            return _inspect(stripped)
        exec_source, eval_source_code = stripped, None

    _namespace.pop('__plots__', None)

    interrupted = False
    tb = ''
    result = None
    out_buf, err_buf = io.StringIO(), io.StringIO()
    old_out, old_err = sys.stdout, sys.stderr
    sys.stdout, sys.stderr = out_buf, err_buf

    start = time.time()
    try:
        if exec_source:
            try:
                exec_code = compile(exec_source, '<evalgw>', 'exec')
            except (OverflowError, SyntaxError, ValueError):
                tb = traceback.format_exc()
                eval_source_code = None
            else:
                exec(exec_code, _namespace)

        if eval_source_code:
            result = eval(eval_source_code, _namespace)
            if result is not None:
                sys.stdout.write(repr(result) + '\n')
    except KeyboardInterrupt:
        tb = traceback.format_exc()
        interrupted = True
    except Exception:
        tb = traceback.format_exc()
    finally:
        sys.stdout, sys.stderr = old_out, old_err

    elapsed = time.time() - start
    plots = _namespace.get('__plots__', [])

    _index[0] += 1
    if result is not None:
        _namespace['_%%d' %% _index[0]] = result
        _namespace['___'] = _namespace.get('__')
        _namespace['__'] = _namespace.get('_')
        _namespace['_'] = result

    return {
        'source': source,
        'index': _index[0],
        'time': elapsed,
        'traceback': tb if tb else False,
        'interrupted': interrupted,
        'out': out_buf.getvalue(),
        'err': err_buf.getvalue(),
        'memory': _rss(),
        'plots': plots,
    }

class _Handler(BaseHTTPRequestHandler):
    def log_message(self, fmt, *args):
        pass

    def _dispatch(self, method):
        length = int(self.headers.get('Content-Length', 0))
        body = json.loads(self.rfile.read(length) or b'{}')
        source = body.get('source', '')

        if method == 'evaluate':
            result = _evaluate(source)
        elif method == 'complete':
            result = _complete(source)
        else:
            self.send_response(404)
            self.end_headers()
            return

        payload = json.dumps(result).encode('utf-8')
        self.send_response(200)
        self.send_header('Content-Type', 'application/json')
        self.send_header('Content-Length', str(len(payload)))
        self.end_headers()
        self.wfile.write(payload)

    def do_POST(self):
        path = self.path.strip('/')
        self._dispatch(path)

if _PREFACE:
    try:
        exec(compile(_PREFACE, '<evalgw-preface>', 'exec'), _namespace)
    except Exception:
        traceback.print_exc()

server = HTTPServer(('127.0.0.1', _PORT), _Handler)
sys.stdout.write('OK (pid=%%s)\n' %% os.getpid())
sys.stdout.flush()

# Two SIGINTs are required to stop an engine run interactively: the
# first interrupts whatever evaluate() call is in flight (the default
# SIGINT handler raises KeyboardInterrupt inside eval/exec), the second
# arrives after control returns to serve_forever() and stops the loop.
try:
    server.serve_forever()
except KeyboardInterrupt:
    pass
`
